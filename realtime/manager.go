package realtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/madhavapavan/CipherChat/storage"
)

// ChannelState is the connection state of one logical subscription.
type ChannelState uint8

const (
	// StateConnected means events are flowing.
	StateConnected ChannelState = iota
	// StateReconnecting means a redial is scheduled after a failure.
	StateReconnecting
	// StateExhausted means the attempt budget is spent; the channel is
	// permanently down and its handler will never run again.
	StateExhausted
	// StateClosed means the channel was unsubscribed.
	StateClosed
)

// String returns a human-readable state name.
func (s ChannelState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultMaxAttempts bounds consecutive reconnection attempts.
const DefaultMaxAttempts = 5

// DefaultBaseDelay is the backoff unit: attempt n waits n×BaseDelay.
const DefaultBaseDelay = time.Second

// ErrDuplicateTopic rejects a second subscription for the same topic.
var ErrDuplicateTopic = errors.New("topic already subscribed")

// Options tunes the reconnection policy.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// OnDown observes a channel becoming permanently disconnected.
	OnDown func(topic string)
}

// Manager owns one channel per subscribed topic.
type Manager struct {
	subscriber  storage.Subscriber
	maxAttempts int
	baseDelay   time.Duration
	onDown      func(topic string)

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

// channel is one logical subscription with its own reconnect state.
type channel struct {
	topic   string
	manager *Manager
	handler func(storage.Event)

	mu          sync.Mutex
	state       ChannelState
	attempts    int
	unsubscribe func()
	timer       *time.Timer
}

// NewManager builds a Manager over the backend's subscriber.
func NewManager(subscriber storage.Subscriber, opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	return &Manager{
		subscriber:  subscriber,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		onDown:      opts.OnDown,
		channels:    make(map[string]*channel),
	}
}

// Subscribe opens a channel for topic, delivering every event to
// exactly the given handler.
func (m *Manager) Subscribe(topic string, handler func(storage.Event)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager is closed")
	}
	if _, exists := m.channels[topic]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTopic, topic)
	}
	ch := &channel{topic: topic, manager: m, handler: handler, state: StateReconnecting}
	m.channels[topic] = ch
	m.mu.Unlock()

	ch.connect()
	return nil
}

// State reports a channel's connection state. Unknown topics read as
// closed.
func (m *Manager) State(topic string) ChannelState {
	m.mu.Lock()
	ch, ok := m.channels[topic]
	m.mu.Unlock()
	if !ok {
		return StateClosed
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Unsubscribe tears down one channel. Idempotent: unknown or already
// closed topics are a no-op.
func (m *Manager) Unsubscribe(topic string) {
	m.mu.Lock()
	ch, ok := m.channels[topic]
	delete(m.channels, topic)
	m.mu.Unlock()
	if ok {
		ch.close()
	}
}

// Close tears down every channel. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	channels := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.channels = make(map[string]*channel)
	m.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
}

func (c *channel) connect() {
	unsubscribe, err := c.manager.subscriber.Subscribe(c.topic, c.onEvent, c.onError)

	c.mu.Lock()
	if c.state == StateClosed || c.state == StateExhausted {
		c.mu.Unlock()
		if err == nil && unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	if err == nil {
		c.state = StateConnected
		c.unsubscribe = unsubscribe
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "connect",
			"topic":    c.topic,
		}).Info("Channel connected")
		return
	}
	c.mu.Unlock()

	c.onError(err)
}

// onEvent delivers to the handler and resets the attempt counter: any
// successful delivery restores the full reconnection budget.
func (c *channel) onEvent(ev storage.Event) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateExhausted {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.attempts = 0
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

func (c *channel) onError(err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateExhausted {
		c.mu.Unlock()
		return
	}
	c.releaseLocked()

	if c.attempts >= c.manager.maxAttempts {
		c.state = StateExhausted
		c.stopTimerLocked()
		c.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "onError",
			"topic":    c.topic,
			"error":    err.Error(),
		}).Error("Channel exhausted reconnection attempts, giving up")
		if c.manager.onDown != nil {
			c.manager.onDown(c.topic)
		}
		return
	}

	c.attempts++
	c.state = StateReconnecting
	delay := time.Duration(c.attempts) * c.manager.baseDelay
	c.stopTimerLocked()
	c.timer = time.AfterFunc(delay, c.connect)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "onError",
		"topic":    c.topic,
		"attempt":  c.attempts,
		"delay":    delay,
		"error":    err.Error(),
	}).Warn("Channel error, reconnecting")
}

func (c *channel) close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.stopTimerLocked()
	c.releaseLocked()
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "close",
		"topic":    c.topic,
	}).Debug("Channel closed")
}

// releaseLocked drops the live subscription, if any. Caller holds c.mu.
func (c *channel) releaseLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
