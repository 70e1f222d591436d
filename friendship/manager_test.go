package friendship

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/madhavapavan/CipherChat/storage"
)

func seedUser(t *testing.T, store storage.Store, id, username string) {
	t.Helper()
	user := &storage.User{ID: id, Username: username, CreatedAt: time.Now().UTC()}
	if _, err := store.CreateDocument(context.Background(), storage.CollectionUsers, id, user.Document()); err != nil {
		t.Fatalf("failed to seed user %s: %v", id, err)
	}
}

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	seedUser(t, store, "u1", "alice")
	seedUser(t, store, "u2", "bob")
	seedUser(t, store, "u3", "carol")
	return NewManager(store), store
}

func TestSendRequest(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	request, err := m.SendRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if request.Status != storage.RequestPending {
		t.Errorf("New request status = %v, want pending", request.Status)
	}
	if request.FromUserID != "u1" || request.ToUserID != "u2" {
		t.Errorf("Request pair = %s→%s", request.FromUserID, request.ToUserID)
	}

	// Pair-uniqueness, both directions.
	if _, err := m.SendRequest(ctx, "u1", "u2"); !errors.Is(err, ErrRequestPending) {
		t.Errorf("Duplicate request: expected ErrRequestPending, got %v", err)
	}
	if _, err := m.SendRequest(ctx, "u2", "u1"); !errors.Is(err, ErrRequestPending) {
		t.Errorf("Reverse request: expected ErrRequestPending, got %v", err)
	}

	if _, err := m.SendRequest(ctx, "u1", "u1"); !errors.Is(err, ErrSelfRequest) {
		t.Errorf("Self request: expected ErrSelfRequest, got %v", err)
	}
}

func TestSendRequest_AlreadyFriends(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	request, err := m.SendRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if err := m.AcceptRequest(ctx, request.ID); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}

	if _, err := m.SendRequest(ctx, "u1", "u2"); !errors.Is(err, ErrAlreadyFriends) {
		t.Errorf("Expected ErrAlreadyFriends, got %v", err)
	}
}

func TestAcceptRequest_AtomicObservable(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	request, err := m.SendRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if err := m.AcceptRequest(ctx, request.ID); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}

	// Both directions, from fresh reads.
	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		ok, err := m.IsFriend(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("IsFriend failed: %v", err)
		}
		if !ok {
			t.Errorf("IsFriend(%s, %s) = false after accept", pair[0], pair[1])
		}
	}

	got, err := m.Request(ctx, request.ID)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got.Status != storage.RequestAccepted {
		t.Errorf("Request status = %v, want accepted", got.Status)
	}

	// Terminal: accepting again must fail.
	if err := m.AcceptRequest(ctx, request.ID); !errors.Is(err, ErrRequestNotPending) {
		t.Errorf("Second accept: expected ErrRequestNotPending, got %v", err)
	}
}

// failingStore wraps a Store and fails UpdateDocument for one document
// id, to exercise the dual-write failure paths.
type failingStore struct {
	storage.Store
	failUpdateID string
}

var errInjected = errors.New("injected write failure")

func (f *failingStore) UpdateDocument(ctx context.Context, col storage.Collection, id string, fields storage.Document) (storage.Document, error) {
	if id == f.failUpdateID {
		return nil, errInjected
	}
	return f.Store.UpdateDocument(ctx, col, id, fields)
}

func TestAcceptRequest_SecondWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()
	seedUser(t, backing, "u1", "alice")
	seedUser(t, backing, "u2", "bob")

	request, err := NewManager(backing).SendRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	// Recipient-side friend write fails.
	m := NewManager(&failingStore{Store: backing, failUpdateID: "u2"})
	if err := m.AcceptRequest(ctx, request.ID); !errors.Is(err, errInjected) {
		t.Fatalf("Expected injected failure, got %v", err)
	}

	clean := NewManager(backing)
	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		ok, err := clean.IsFriend(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("IsFriend failed: %v", err)
		}
		if ok {
			t.Errorf("IsFriend(%s, %s) = true after failed accept", pair[0], pair[1])
		}
	}

	got, err := clean.Request(ctx, request.ID)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got.Status != storage.RequestPending {
		t.Errorf("Request status = %v after failed accept, want pending", got.Status)
	}
}

func TestAcceptRequest_StatusWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()
	seedUser(t, backing, "u1", "alice")
	seedUser(t, backing, "u2", "bob")

	request, err := NewManager(backing).SendRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	// Status flip fails after both friend writes succeeded.
	m := NewManager(&failingStore{Store: backing, failUpdateID: request.ID})
	if err := m.AcceptRequest(ctx, request.ID); !errors.Is(err, errInjected) {
		t.Fatalf("Expected injected failure, got %v", err)
	}

	clean := NewManager(backing)
	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		ok, _ := clean.IsFriend(ctx, pair[0], pair[1])
		if ok {
			t.Errorf("IsFriend(%s, %s) = true after failed accept", pair[0], pair[1])
		}
	}
}

func TestDeclineRequest(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	request, err := m.SendRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if err := m.DeclineRequest(ctx, request.ID); err != nil {
		t.Fatalf("DeclineRequest failed: %v", err)
	}

	got, err := m.Request(ctx, request.ID)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got.Status != storage.RequestRejected {
		t.Errorf("Request status = %v, want rejected", got.Status)
	}

	ok, _ := m.IsFriend(ctx, "u1", "u2")
	if ok {
		t.Error("Decline changed a friend set")
	}

	// Terminal.
	if err := m.DeclineRequest(ctx, request.ID); !errors.Is(err, ErrRequestNotPending) {
		t.Errorf("Second decline: expected ErrRequestNotPending, got %v", err)
	}
	if err := m.AcceptRequest(ctx, request.ID); !errors.Is(err, ErrRequestNotPending) {
		t.Errorf("Accept after decline: expected ErrRequestNotPending, got %v", err)
	}

	// A rejected request no longer blocks a new one.
	if _, err := m.SendRequest(ctx, "u2", "u1"); err != nil {
		t.Errorf("New request after rejection failed: %v", err)
	}
}

func TestRequireFriends(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	if err := m.RequireFriends(ctx, "u1", "u2"); !errors.Is(err, ErrNotFriends) {
		t.Errorf("Expected ErrNotFriends, got %v", err)
	}

	request, _ := m.SendRequest(ctx, "u1", "u2")
	if err := m.AcceptRequest(ctx, request.ID); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}
	if err := m.RequireFriends(ctx, "u1", "u2"); err != nil {
		t.Errorf("RequireFriends failed for friends: %v", err)
	}

	// Revocation must be seen at call time.
	if err := m.RemoveFriend(ctx, "u1", "u2"); err != nil {
		t.Fatalf("RemoveFriend failed: %v", err)
	}
	if err := m.RequireFriends(ctx, "u1", "u2"); !errors.Is(err, ErrNotFriends) {
		t.Errorf("Expected ErrNotFriends after removal, got %v", err)
	}
	if err := m.RequireFriends(ctx, "u2", "u1"); !errors.Is(err, ErrNotFriends) {
		t.Errorf("Expected symmetric removal, got %v", err)
	}
}

func TestStatusBetween(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	status, err := m.StatusBetween(ctx, "u1", "u2")
	if err != nil || status != StatusNone {
		t.Errorf("StatusBetween = %v, %v; want none", status, err)
	}

	request, _ := m.SendRequest(ctx, "u1", "u2")

	status, _ = m.StatusBetween(ctx, "u1", "u2")
	if status != StatusPending {
		t.Errorf("Sender sees %v, want pending", status)
	}
	status, _ = m.StatusBetween(ctx, "u2", "u1")
	if status != StatusRequested {
		t.Errorf("Recipient sees %v, want requested", status)
	}

	if err := m.AcceptRequest(ctx, request.ID); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}
	status, _ = m.StatusBetween(ctx, "u1", "u2")
	if status != StatusAccepted {
		t.Errorf("StatusBetween = %v after accept, want accepted", status)
	}
}

func TestPendingAndSentRequests(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	if _, err := m.SendRequest(ctx, "u1", "u2"); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if _, err := m.SendRequest(ctx, "u3", "u2"); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	pending, err := m.PendingRequests(ctx, "u2")
	if err != nil {
		t.Fatalf("PendingRequests failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("PendingRequests returned %d, want 2", len(pending))
	}

	sent, err := m.SentRequests(ctx, "u1")
	if err != nil {
		t.Fatalf("SentRequests failed: %v", err)
	}
	if len(sent) != 1 || sent[0].ToUserID != "u2" {
		t.Errorf("SentRequests = %+v", sent)
	}
}
