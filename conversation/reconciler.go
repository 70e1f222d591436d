package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/madhavapavan/CipherChat/crypto"
	"github.com/madhavapavan/CipherChat/storage"
)

// DisplayMessage is a message with its recovered plaintext. Content is
// crypto.UndecryptablePlaceholder when the ciphertext cannot be read.
type DisplayMessage struct {
	storage.Message
	Content string
}

// Reconciler owns the per-peer message timeline, the unread counter,
// and the new-message notification list for one logged-in user.
type Reconciler struct {
	selfID string
	store  storage.Store
	keys   crypto.KeyProvider

	mu        sync.Mutex
	openPeer  string
	openEpoch uint64
	timeline  []storage.Message
	seen      map[string]struct{}
	fresh     []storage.Message
	freshSeen map[string]struct{}
	unread    int
}

// NewReconciler creates a reconciler for selfID. One reconciler lives
// per login session.
func NewReconciler(selfID string, store storage.Store, keys crypto.KeyProvider) *Reconciler {
	if keys == nil {
		keys = crypto.IdentityKeyProvider{}
	}
	return &Reconciler{
		selfID:    selfID,
		store:     store,
		keys:      keys,
		seen:      make(map[string]struct{}),
		freshSeen: make(map[string]struct{}),
	}
}

// OpenConversation switches the view to peerID, fetches history, and
// merges it into the timeline. Re-opening the same peer is safe: the
// merge is idempotent and already-placed messages keep their order.
// If the view switches again while the fetch is in flight, the stale
// result merges nothing and the call returns the empty slice.
func (r *Reconciler) OpenConversation(ctx context.Context, peerID string) ([]DisplayMessage, error) {
	r.mu.Lock()
	if r.openPeer != peerID {
		r.timeline = nil
		r.seen = make(map[string]struct{})
	}
	r.openPeer = peerID
	r.openEpoch++
	epoch := r.openEpoch
	r.mu.Unlock()

	history, err := r.loadHistory(ctx, peerID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.openEpoch != epoch || r.openPeer != peerID {
		logrus.WithFields(logrus.Fields{
			"function": "OpenConversation",
			"peer":     peerID,
		}).Debug("Discarding stale history fetch after conversation switch")
		return nil, nil
	}

	for _, msg := range history {
		r.insertLocked(msg)
	}
	r.clearPeerUnreadLocked(peerID)

	return r.decryptAllLocked(), nil
}

// CloseConversation leaves the open conversation. In-flight fetches for
// the previously open peer become inert.
func (r *Reconciler) CloseConversation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openPeer = ""
	r.openEpoch++
	r.timeline = nil
	r.seen = make(map[string]struct{})
}

// MergeLive routes one realtime message event. Create events for the
// open peer are merged into the timeline (id-deduplicated; live events
// and history fetches can race and must not double-insert). Inbound
// messages for any other peer go to the new-message list and count
// toward unread.
func (r *Reconciler) MergeLive(ev storage.Event) {
	if ev.Collection != storage.CollectionMessages || ev.Action != storage.ActionCreate {
		return
	}

	msg, err := storage.MessageFromDocument(ev.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "MergeLive",
			"error":    err.Error(),
		}).Warn("Ignoring malformed message event")
		return
	}
	if !msg.Involves(r.selfID) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	peer := msg.Peer(r.selfID)
	if r.openPeer != "" && peer == r.openPeer {
		r.insertLocked(*msg)
		return
	}

	if msg.ToUserID != r.selfID {
		// Own message for a conversation that is not open; nothing to
		// count.
		return
	}
	if _, dup := r.freshSeen[msg.ID]; dup {
		return
	}
	r.freshSeen[msg.ID] = struct{}{}
	r.fresh = append(r.fresh, *msg)
	sort.SliceStable(r.fresh, func(i, j int) bool {
		a, b := r.fresh[i], r.fresh[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	r.unread++
}

// NoteRequest counts an inbound friend-request notification toward the
// unread counter.
func (r *Reconciler) NoteRequest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unread++
}

// Unread reports the current unread counter.
func (r *Reconciler) Unread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread
}

// MarkNotificationsRead clears the unread counter and the new-message
// list.
func (r *Reconciler) MarkNotificationsRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unread = 0
	r.fresh = nil
	r.freshSeen = make(map[string]struct{})
}

// NewMessages returns the notification list, most recent first.
func (r *Reconciler) NewMessages() []storage.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.Message, len(r.fresh))
	copy(out, r.fresh)
	return out
}

// OpenPeer reports which conversation is open, if any.
func (r *Reconciler) OpenPeer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openPeer
}

// Timeline returns the open conversation's messages, ascending.
func (r *Reconciler) Timeline() []storage.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.Message, len(r.timeline))
	copy(out, r.timeline)
	return out
}

// DisplayTimeline returns the open conversation decrypted for display.
func (r *Reconciler) DisplayTimeline() []DisplayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decryptAllLocked()
}

// DecryptForDisplay recovers one message's plaintext. The recipient
// unwraps the embedded wrapped key with their own id; the sender
// re-derives the shared key directly, because only the recipient's copy
// is key-wrapped.
func (r *Reconciler) DecryptForDisplay(msg storage.Message) DisplayMessage {
	var key crypto.Key
	if msg.FromUserID == r.selfID {
		derived, err := r.keys.SharedKey(r.selfID, msg.ToUserID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "DecryptForDisplay",
				"message_id": msg.ID,
				"error":      err.Error(),
			}).Warn("Key derivation failed for own message")
			return DisplayMessage{Message: msg, Content: crypto.UndecryptablePlaceholder}
		}
		key = derived
	} else {
		unwrapped, ok := crypto.UnwrapKey(msg.WrappedKey, r.selfID)
		if !ok {
			return DisplayMessage{Message: msg, Content: crypto.UndecryptablePlaceholder}
		}
		key = unwrapped
	}

	return DisplayMessage{Message: msg, Content: crypto.Decrypt(msg.Ciphertext, key)}
}

// loadHistory issues the two range queries for the pair and returns the
// merged result, ascending by (createdAt, id).
func (r *Reconciler) loadHistory(ctx context.Context, peerID string) ([]storage.Message, error) {
	sent, err := r.store.ListDocuments(ctx, storage.CollectionMessages,
		storage.Equal("fromUserId", r.selfID),
		storage.Equal("toUserId", peerID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sent messages: %w", err)
	}

	received, err := r.store.ListDocuments(ctx, storage.CollectionMessages,
		storage.Equal("fromUserId", peerID),
		storage.Equal("toUserId", r.selfID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch received messages: %w", err)
	}

	merged := make([]storage.Message, 0, len(sent)+len(received))
	for _, doc := range append(sent, received...) {
		msg, err := storage.MessageFromDocument(doc)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "loadHistory",
				"error":    err.Error(),
			}).Warn("Skipping malformed message document")
			continue
		}
		merged = append(merged, *msg)
	}
	sortAscending(merged)
	return merged, nil
}

// insertLocked adds a message to the timeline unless its id is already
// present, keeping ascending order. Caller holds r.mu.
func (r *Reconciler) insertLocked(msg storage.Message) {
	if _, dup := r.seen[msg.ID]; dup {
		return
	}
	r.seen[msg.ID] = struct{}{}
	r.timeline = append(r.timeline, msg)
	sortAscending(r.timeline)
}

// clearPeerUnreadLocked drops peerID's entries from the new-message
// list and subtracts them from the unread counter. Caller holds r.mu.
func (r *Reconciler) clearPeerUnreadLocked(peerID string) {
	kept := r.fresh[:0]
	removed := 0
	for _, msg := range r.fresh {
		if msg.Peer(r.selfID) == peerID {
			delete(r.freshSeen, msg.ID)
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	r.fresh = kept
	r.unread -= removed
	if r.unread < 0 {
		r.unread = 0
	}
}

func (r *Reconciler) decryptAllLocked() []DisplayMessage {
	out := make([]DisplayMessage, 0, len(r.timeline))
	for _, msg := range r.timeline {
		out = append(out, r.DecryptForDisplay(msg))
	}
	return out
}

// sortAscending orders messages by createdAt, ties broken by id so the
// order is total and stable.
func sortAscending(messages []storage.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
