package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madhavapavan/CipherChat/storage"
)

// fakeSubscriber records subscriptions and lets tests push events and
// errors into the most recent one per topic.
type fakeSubscriber struct {
	mu           sync.Mutex
	dialCount    map[string]int
	onEvent      map[string]func(storage.Event)
	onError      map[string]func(error)
	unsubscribed map[string]int
	failDial     map[string]bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		dialCount:    make(map[string]int),
		onEvent:      make(map[string]func(storage.Event)),
		onError:      make(map[string]func(error)),
		unsubscribed: make(map[string]int),
		failDial:     make(map[string]bool),
	}
}

func (f *fakeSubscriber) Subscribe(topic string, onEvent func(storage.Event), onError func(error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialCount[topic]++
	if f.failDial[topic] {
		return nil, errors.New("dial refused")
	}
	f.onEvent[topic] = onEvent
	f.onError[topic] = onError
	return func() {
		f.mu.Lock()
		f.unsubscribed[topic]++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSubscriber) pushEvent(topic string, ev storage.Event) {
	f.mu.Lock()
	handler := f.onEvent[topic]
	f.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (f *fakeSubscriber) pushError(topic string, err error) {
	f.mu.Lock()
	handler := f.onError[topic]
	f.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

func (f *fakeSubscriber) dials(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialCount[topic]
}

// waitForState polls until the channel reaches the wanted state.
func waitForState(t *testing.T, m *Manager, topic string, want ChannelState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if m.State(topic) == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("channel %s never reached %v (now %v)", topic, want, m.State(topic))
		case <-time.After(time.Millisecond):
		}
	}
}

func testEvent() storage.Event {
	return storage.Event{
		Collection: storage.CollectionMessages,
		Action:     storage.ActionCreate,
		Payload:    storage.Document{"id": "m1", "fromUserId": "u1", "toUserId": "u2"},
	}
}

func TestSubscribe_DeliversToExactlyOneHandler(t *testing.T) {
	sub := newFakeSubscriber()
	m := NewManager(sub, Options{BaseDelay: time.Millisecond})
	defer m.Close()

	var messages, requests int
	require.NoError(t, m.Subscribe("messages", func(storage.Event) { messages++ }))
	require.NoError(t, m.Subscribe("requests", func(storage.Event) { requests++ }))

	sub.pushEvent("messages", testEvent())
	sub.pushEvent("messages", testEvent())
	sub.pushEvent("requests", testEvent())

	assert.Equal(t, 2, messages)
	assert.Equal(t, 1, requests)

	assert.ErrorIs(t, m.Subscribe("messages", func(storage.Event) {}), ErrDuplicateTopic)
}

func TestChannel_ReconnectsWithLinearBackoff(t *testing.T) {
	sub := newFakeSubscriber()
	m := NewManager(sub, Options{BaseDelay: time.Millisecond, MaxAttempts: 5})
	defer m.Close()

	var delivered int
	require.NoError(t, m.Subscribe("messages", func(storage.Event) { delivered++ }))
	require.Equal(t, StateConnected, m.State("messages"))

	sub.pushError("messages", errors.New("connection reset"))
	waitForState(t, m, "messages", StateConnected)
	assert.Equal(t, 2, sub.dials("messages"))

	// Delivery after the redial proves the channel recovered.
	sub.pushEvent("messages", testEvent())
	assert.Equal(t, 1, delivered)
}

func TestChannel_ExhaustsAfterBoundedAttempts(t *testing.T) {
	const maxAttempts = 5
	sub := newFakeSubscriber()

	down := make(chan string, 1)
	m := NewManager(sub, Options{
		BaseDelay:   time.Millisecond,
		MaxAttempts: maxAttempts,
		OnDown:      func(topic string) { down <- topic },
	})
	defer m.Close()

	var delivered int
	require.NoError(t, m.Subscribe("messages", func(storage.Event) { delivered++ }))

	// Every redial fails from here on.
	sub.mu.Lock()
	sub.failDial["messages"] = true
	sub.mu.Unlock()

	sub.pushError("messages", errors.New("connection reset"))
	waitForState(t, m, "messages", StateExhausted)

	select {
	case topic := <-down:
		assert.Equal(t, "messages", topic)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDown was never surfaced")
	}

	// Initial dial plus exactly maxAttempts redials, then silence.
	assert.Equal(t, 1+maxAttempts, sub.dials("messages"))

	// The handler never runs again, even if the old feed misbehaves.
	sub.pushEvent("messages", testEvent())
	assert.Equal(t, 0, delivered)

	// Exhaustion is permanent: no further dials get scheduled.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1+maxAttempts, sub.dials("messages"))
}

func TestChannel_SuccessResetsAttemptBudget(t *testing.T) {
	sub := newFakeSubscriber()
	m := NewManager(sub, Options{BaseDelay: time.Millisecond, MaxAttempts: 2})
	defer m.Close()

	require.NoError(t, m.Subscribe("messages", func(storage.Event) {}))

	// Spend one attempt, then deliver successfully.
	sub.pushError("messages", errors.New("blip"))
	waitForState(t, m, "messages", StateConnected)
	sub.pushEvent("messages", testEvent())

	// The full budget is available again: two more single failures
	// with interleaved recoveries never exhaust the channel.
	for i := 0; i < 2; i++ {
		sub.pushError("messages", errors.New("blip"))
		waitForState(t, m, "messages", StateConnected)
		sub.pushEvent("messages", testEvent())
	}
	assert.Equal(t, StateConnected, m.State("messages"))
}

func TestUnsubscribe_IdempotentAndReleasing(t *testing.T) {
	sub := newFakeSubscriber()
	m := NewManager(sub, Options{BaseDelay: time.Millisecond})

	require.NoError(t, m.Subscribe("messages", func(storage.Event) {}))

	m.Unsubscribe("messages")
	m.Unsubscribe("messages") // second call must not panic or error
	assert.Equal(t, StateClosed, m.State("messages"))

	sub.mu.Lock()
	released := sub.unsubscribed["messages"]
	sub.mu.Unlock()
	assert.Equal(t, 1, released, "channel resources released exactly once")

	// Close after unsubscribe is also a no-op.
	m.Close()
	m.Close()
}

func TestManager_ThreeIndependentChannels(t *testing.T) {
	sub := newFakeSubscriber()
	m := NewManager(sub, Options{BaseDelay: time.Millisecond, MaxAttempts: 1})
	defer m.Close()

	for _, topic := range []string{"messages", "requests", "users"} {
		topic := topic
		require.NoError(t, m.Subscribe(topic, func(storage.Event) {}))
	}

	// Kill one channel; the others stay connected.
	sub.mu.Lock()
	sub.failDial["requests"] = true
	sub.mu.Unlock()
	sub.pushError("requests", errors.New("gone"))
	waitForState(t, m, "requests", StateExhausted)

	assert.Equal(t, StateConnected, m.State("messages"))
	assert.Equal(t, StateConnected, m.State("users"))
}
