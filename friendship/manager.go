package friendship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/madhavapavan/CipherChat/storage"
)

// Status describes a pair's relationship from one user's point of view.
type Status string

const (
	// StatusNone means no relationship and no open request.
	StatusNone Status = "none"
	// StatusPending means self has an outgoing request awaiting an answer.
	StatusPending Status = "pending"
	// StatusRequested means the other user has asked and self may answer.
	StatusRequested Status = "requested"
	// StatusAccepted means the pair are friends.
	StatusAccepted Status = "accepted"
)

// ErrSelfRequest rejects a friend request addressed to its own sender.
var ErrSelfRequest = errors.New("cannot send a friend request to yourself")

// ErrAlreadyFriends rejects a request between users who are friends.
var ErrAlreadyFriends = errors.New("users are already friends")

// ErrRequestPending rejects a second request while one is open for the
// pair, in either direction.
var ErrRequestPending = errors.New("a pending request already exists for this pair")

// ErrRequestNotPending rejects accept/decline on a request that is not
// in the pending state.
var ErrRequestNotPending = errors.New("request is not pending")

// ErrNotFriends is the messaging guard failure.
var ErrNotFriends = errors.New("users are not friends")

// Manager runs the friendship state machine against the document store.
type Manager struct {
	store storage.Store
}

// NewManager creates a Manager backed by store.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// User fetches and narrows one user document.
func (m *Manager) User(ctx context.Context, userID string) (*storage.User, error) {
	doc, err := m.store.GetDocument(ctx, storage.CollectionUsers, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return storage.UserFromDocument(doc)
}

// IsFriend reports whether b is in a's friend set, from a fresh read.
func (m *Manager) IsFriend(ctx context.Context, a, b string) (bool, error) {
	user, err := m.User(ctx, a)
	if err != nil {
		return false, err
	}
	return user.HasFriend(b), nil
}

// RequireFriends is the send-path guard: it fails with ErrNotFriends
// whenever the pair are not friends at call time.
func (m *Manager) RequireFriends(ctx context.Context, a, b string) error {
	ok, err := m.IsFriend(ctx, a, b)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriends
	}
	return nil
}

// SendRequest creates a pending request from one user to another.
// Pair-uniqueness is enforced at write time: an open request in either
// direction blocks a new one. The remote store has no server-side
// constraint, so two truly concurrent writers can still slip a
// duplicate through; AcceptRequest tolerates that.
func (m *Manager) SendRequest(ctx context.Context, fromUserID, toUserID string) (*storage.FriendRequest, error) {
	if fromUserID == toUserID {
		return nil, ErrSelfRequest
	}

	friends, err := m.IsFriend(ctx, fromUserID, toUserID)
	if err != nil {
		return nil, err
	}
	if friends {
		return nil, ErrAlreadyFriends
	}

	open, err := m.hasPendingBetween(ctx, fromUserID, toUserID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrRequestPending
	}

	request := &storage.FriendRequest{
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Status:     storage.RequestPending,
		CreatedAt:  time.Now().UTC(),
	}
	fields := request.Document()
	delete(fields, "id")

	doc, err := m.store.CreateDocument(ctx, storage.CollectionRequests, "", fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create friend request: %w", err)
	}

	created, err := storage.RequestFromDocument(doc)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "SendRequest",
		"request_id": created.ID,
		"from_user":  fromUserID,
		"to_user":    toUserID,
	}).Info("Friend request sent")
	return created, nil
}

// AcceptRequest transitions a pending request to accepted, adding each
// user to the other's friend set first. Observable atomicity: on any
// failure the status stays pending and neither friend set is changed.
func (m *Manager) AcceptRequest(ctx context.Context, requestID string) error {
	request, err := m.Request(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != storage.RequestPending {
		return fmt.Errorf("%w: request %s is %s", ErrRequestNotPending, requestID, request.Status)
	}

	addedFrom, err := m.addFriend(ctx, request.FromUserID, request.ToUserID)
	if err != nil {
		return fmt.Errorf("failed to update sender friend set: %w", err)
	}

	addedTo, err := m.addFriend(ctx, request.ToUserID, request.FromUserID)
	if err != nil {
		if addedFrom {
			m.rollbackFriend(ctx, request.FromUserID, request.ToUserID)
		}
		return fmt.Errorf("failed to update recipient friend set: %w", err)
	}

	_, err = m.store.UpdateDocument(ctx, storage.CollectionRequests, requestID,
		storage.Document{"status": string(storage.RequestAccepted)})
	if err != nil {
		if addedFrom {
			m.rollbackFriend(ctx, request.FromUserID, request.ToUserID)
		}
		if addedTo {
			m.rollbackFriend(ctx, request.ToUserID, request.FromUserID)
		}
		return fmt.Errorf("failed to mark request accepted: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "AcceptRequest",
		"request_id": requestID,
		"from_user":  request.FromUserID,
		"to_user":    request.ToUserID,
	}).Info("Friend request accepted")
	return nil
}

// DeclineRequest transitions a pending request to rejected. Terminal;
// friend sets are untouched.
func (m *Manager) DeclineRequest(ctx context.Context, requestID string) error {
	request, err := m.Request(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != storage.RequestPending {
		return fmt.Errorf("%w: request %s is %s", ErrRequestNotPending, requestID, request.Status)
	}

	_, err = m.store.UpdateDocument(ctx, storage.CollectionRequests, requestID,
		storage.Document{"status": string(storage.RequestRejected)})
	if err != nil {
		return fmt.Errorf("failed to mark request rejected: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "DeclineRequest",
		"request_id": requestID,
	}).Info("Friend request declined")
	return nil
}

// Request fetches and narrows one request document.
func (m *Manager) Request(ctx context.Context, requestID string) (*storage.FriendRequest, error) {
	doc, err := m.store.GetDocument(ctx, storage.CollectionRequests, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request %s: %w", requestID, err)
	}
	return storage.RequestFromDocument(doc)
}

// PendingRequests lists open requests addressed to userID.
func (m *Manager) PendingRequests(ctx context.Context, userID string) ([]*storage.FriendRequest, error) {
	return m.listRequests(ctx,
		storage.Equal("toUserId", userID),
		storage.Equal("status", string(storage.RequestPending)))
}

// SentRequests lists open requests userID has sent.
func (m *Manager) SentRequests(ctx context.Context, userID string) ([]*storage.FriendRequest, error) {
	return m.listRequests(ctx,
		storage.Equal("fromUserId", userID),
		storage.Equal("status", string(storage.RequestPending)))
}

// RemoveFriend removes the relationship from both sides.
func (m *Manager) RemoveFriend(ctx context.Context, userID, friendID string) error {
	if err := m.removeFriend(ctx, userID, friendID); err != nil {
		return err
	}
	return m.removeFriend(ctx, friendID, userID)
}

// StatusBetween reports the relationship between self and another user:
// accepted beats any open request, an outgoing request reads as
// pending, an incoming one as requested.
func (m *Manager) StatusBetween(ctx context.Context, selfID, otherID string) (Status, error) {
	friends, err := m.IsFriend(ctx, selfID, otherID)
	if err != nil {
		return StatusNone, err
	}
	if friends {
		return StatusAccepted, nil
	}

	sent, err := m.SentRequests(ctx, selfID)
	if err != nil {
		return StatusNone, err
	}
	for _, req := range sent {
		if req.ToUserID == otherID {
			return StatusPending, nil
		}
	}

	received, err := m.PendingRequests(ctx, selfID)
	if err != nil {
		return StatusNone, err
	}
	for _, req := range received {
		if req.FromUserID == otherID {
			return StatusRequested, nil
		}
	}
	return StatusNone, nil
}

func (m *Manager) listRequests(ctx context.Context, filters ...storage.Filter) ([]*storage.FriendRequest, error) {
	docs, err := m.store.ListDocuments(ctx, storage.CollectionRequests, filters...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	out := make([]*storage.FriendRequest, 0, len(docs))
	for _, doc := range docs {
		req, err := storage.RequestFromDocument(doc)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "listRequests",
				"error":    err.Error(),
			}).Warn("Skipping malformed request document")
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (m *Manager) hasPendingBetween(ctx context.Context, a, b string) (bool, error) {
	forward, err := m.listRequests(ctx,
		storage.Equal("fromUserId", a),
		storage.Equal("toUserId", b),
		storage.Equal("status", string(storage.RequestPending)))
	if err != nil {
		return false, err
	}
	if len(forward) > 0 {
		return true, nil
	}

	reverse, err := m.listRequests(ctx,
		storage.Equal("fromUserId", b),
		storage.Equal("toUserId", a),
		storage.Equal("status", string(storage.RequestPending)))
	if err != nil {
		return false, err
	}
	return len(reverse) > 0, nil
}

// addFriend adds friendID to userID's friend set. Reports whether the
// set actually changed, so rollback never removes a pre-existing
// relationship.
func (m *Manager) addFriend(ctx context.Context, userID, friendID string) (bool, error) {
	user, err := m.User(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.HasFriend(friendID) {
		return false, nil
	}

	_, err = m.store.UpdateDocument(ctx, storage.CollectionUsers, userID,
		storage.Document{"friends": append(user.Friends, friendID)})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) removeFriend(ctx context.Context, userID, friendID string) error {
	user, err := m.User(ctx, userID)
	if err != nil {
		return err
	}

	remaining := make([]string, 0, len(user.Friends))
	for _, id := range user.Friends {
		if id != friendID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == len(user.Friends) {
		return nil
	}

	_, err = m.store.UpdateDocument(ctx, storage.CollectionUsers, userID,
		storage.Document{"friends": remaining})
	if err != nil {
		return fmt.Errorf("failed to remove friend: %w", err)
	}
	return nil
}

func (m *Manager) rollbackFriend(ctx context.Context, userID, friendID string) {
	if err := m.removeFriend(ctx, userID, friendID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "rollbackFriend",
			"user_id":   userID,
			"friend_id": friendID,
			"error":     err.Error(),
		}).Error("Failed to roll back friend-set write")
	}
}
