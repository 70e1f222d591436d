// Package cipherchat implements the core of a peer-to-peer messaging
// client layered over a remote document store and a realtime
// change-event feed.
//
// The Client ties the core components together: per-pair key derivation
// and message encryption, the friend-request state machine that gates
// who may message whom, the conversation reconciler that merges history
// fetches with live push events, and the realtime channel manager that
// keeps three subscriptions alive with bounded reconnection.
//
// Example:
//
//	client, err := cipherchat.New(cipherchat.Options{Backend: backend})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.OnMessage(func(msg storage.Message) {
//	    fmt.Printf("message from %s\n", msg.FromUserID)
//	})
//
//	if err := client.Login(ctx, "ada@example.com", "secret"); err != nil {
//	    log.Fatal(err)
//	}
//
//	timeline, err := client.OpenConversation(ctx, friendID)
//	for _, msg := range timeline {
//	    fmt.Println(msg.Content)
//	}
package cipherchat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/madhavapavan/CipherChat/conversation"
	"github.com/madhavapavan/CipherChat/crypto"
	"github.com/madhavapavan/CipherChat/friendship"
	"github.com/madhavapavan/CipherChat/realtime"
	"github.com/madhavapavan/CipherChat/session"
	"github.com/madhavapavan/CipherChat/storage"
)

// ErrNotLoggedIn rejects operations that need a session.
var ErrNotLoggedIn = errors.New("not logged in")

// Options configures a Client.
type Options struct {
	// Backend is the remote collaborator. Required.
	Backend storage.Backend
	// KeyProvider supplies conversation keys. Defaults to the
	// identity-derived provider.
	KeyProvider crypto.KeyProvider
	// ReconnectBaseDelay and MaxReconnectAttempts tune the realtime
	// channels; zero values take the realtime package defaults.
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

// Client is a CipherChat messaging client for one user at a time.
type Client struct {
	backend storage.Backend
	keys    crypto.KeyProvider
	friends *friendship.Manager
	opts    Options

	mu       sync.RWMutex
	state    *session.State
	conv     *conversation.Reconciler
	channels *realtime.Manager

	onMessage     func(storage.Message)
	onRequest     func(storage.FriendRequest)
	onUserUpdate  func(storage.User)
	onChannelDown func(topic string)
}

// New creates a Client. No session exists until Login or Register.
func New(opts Options) (*Client, error) {
	if opts.Backend == nil {
		return nil, errors.New("options require a backend")
	}
	keys := opts.KeyProvider
	if keys == nil {
		keys = crypto.IdentityKeyProvider{}
	}
	return &Client{
		backend: opts.Backend,
		keys:    keys,
		friends: friendship.NewManager(opts.Backend),
		opts:    opts,
	}, nil
}

// OnMessage sets the callback for inbound and own message-create
// events.
func (c *Client) OnMessage(callback func(storage.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = callback
}

// OnFriendRequest sets the callback for newly received friend requests.
func (c *Client) OnFriendRequest(callback func(storage.FriendRequest)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRequest = callback
}

// OnUserUpdate sets the callback for user-profile change events.
func (c *Client) OnUserUpdate(callback func(storage.User)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUserUpdate = callback
}

// OnChannelDown sets the callback observing a realtime channel giving
// up after exhausting its reconnection budget.
func (c *Client) OnChannelDown(callback func(topic string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChannelDown = callback
}

// Register creates an account plus profile document and logs the new
// user in.
func (c *Client) Register(ctx context.Context, email, password, firstName, lastName, username string) (*storage.User, error) {
	userID, err := c.backend.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	profile := &storage.User{
		ID:        userID,
		FirstName: firstName,
		LastName:  lastName,
		Username:  username,
		Friends:   []string{},
		CreatedAt: time.Now().UTC(),
	}
	if provider, ok := c.keys.(*crypto.ECDHKeyProvider); ok {
		profile.PublicKey = fmt.Sprintf("%x", provider.PublicKey())
	}

	fields := profile.Document()
	delete(fields, "id")
	if _, err := c.backend.CreateDocument(ctx, storage.CollectionUsers, userID, fields); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	if err := c.startSession(ctx, userID, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Login opens a session for an existing account.
func (c *Client) Login(ctx context.Context, email, password string) error {
	userID, err := c.backend.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	profile, err := c.friends.User(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load own profile: %w", err)
	}
	return c.startSession(ctx, userID, profile)
}

// Logout tears down the realtime channels and clears the session
// state.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	channels := c.channels
	state := c.state
	c.channels = nil
	c.conv = nil
	c.state = nil
	c.mu.Unlock()

	if channels != nil {
		channels.Close()
	}
	if state != nil {
		state.Reset()
	}

	if err := c.backend.Logout(ctx); err != nil {
		return fmt.Errorf("remote logout failed: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Logout",
	}).Info("Session cleared")
	return nil
}

// Close releases the realtime channels without touching the remote
// session. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	channels := c.channels
	c.channels = nil
	c.mu.Unlock()
	if channels != nil {
		channels.Close()
	}
}

// UserID returns the logged-in user's id.
func (c *Client) UserID() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return "", ErrNotLoggedIn
	}
	return c.state.UserID(), nil
}

// SendMessage encrypts content for the recipient and appends it to the
// conversation. The friendship guard runs against a fresh read
// immediately before the write; cached UI state is never trusted.
func (c *Client) SendMessage(ctx context.Context, toUserID, content, fileID string) (*storage.Message, error) {
	selfID, err := c.UserID()
	if err != nil {
		return nil, err
	}

	key, err := c.keys.SharedKey(selfID, toUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain conversation key: %w", err)
	}
	ciphertext, err := crypto.Encrypt(content, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}
	wrapped, err := crypto.WrapKey(key, toUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}

	if err := c.friends.RequireFriends(ctx, selfID, toUserID); err != nil {
		return nil, err
	}

	msg := &storage.Message{
		FromUserID: selfID,
		ToUserID:   toUserID,
		Ciphertext: ciphertext,
		WrappedKey: wrapped,
		FileID:     fileID,
		CreatedAt:  time.Now().UTC(),
	}
	fields := msg.Document()
	delete(fields, "id")

	doc, err := c.backend.CreateDocument(ctx, storage.CollectionMessages, "", fields)
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	return storage.MessageFromDocument(doc)
}

// SendFile uploads data (gated at storage.MaxFileSize before any
// network call) and sends a message carrying the file id.
func (c *Client) SendFile(ctx context.Context, toUserID, name string, data []byte, caption string) (*storage.Message, error) {
	fileID, err := c.backend.UploadFile(ctx, name, data)
	if err != nil {
		return nil, err
	}
	return c.SendMessage(ctx, toUserID, caption, fileID)
}

// FilePreviewURL resolves a message attachment's preview location.
func (c *Client) FilePreviewURL(fileID string) string {
	return c.backend.FilePreviewURL(fileID)
}

// FileDownloadURL resolves a message attachment's download location.
func (c *Client) FileDownloadURL(fileID string) string {
	return c.backend.FileDownloadURL(fileID)
}

// OpenConversation switches the timeline to peerID and returns its
// decrypted history merged with any buffered live events.
func (c *Client) OpenConversation(ctx context.Context, peerID string) ([]conversation.DisplayMessage, error) {
	conv, err := c.reconciler()
	if err != nil {
		return nil, err
	}
	return conv.OpenConversation(ctx, peerID)
}

// CloseConversation leaves the open conversation.
func (c *Client) CloseConversation() {
	if conv, err := c.reconciler(); err == nil {
		conv.CloseConversation()
	}
}

// Timeline returns the open conversation decrypted for display.
func (c *Client) Timeline() ([]conversation.DisplayMessage, error) {
	conv, err := c.reconciler()
	if err != nil {
		return nil, err
	}
	return conv.DisplayTimeline(), nil
}

// Unread reports the unread counter.
func (c *Client) Unread() int {
	conv, err := c.reconciler()
	if err != nil {
		return 0
	}
	return conv.Unread()
}

// NewMessages returns the notification list, most recent first.
func (c *Client) NewMessages() []storage.Message {
	conv, err := c.reconciler()
	if err != nil {
		return nil
	}
	return conv.NewMessages()
}

// MarkNotificationsRead clears the unread counter.
func (c *Client) MarkNotificationsRead() {
	if conv, err := c.reconciler(); err == nil {
		conv.MarkNotificationsRead()
	}
}

// SendFriendRequest asks another user for permission to message.
func (c *Client) SendFriendRequest(ctx context.Context, toUserID string) (*storage.FriendRequest, error) {
	selfID, err := c.UserID()
	if err != nil {
		return nil, err
	}
	return c.friends.SendRequest(ctx, selfID, toUserID)
}

// AcceptFriendRequest accepts a pending request and refreshes the user
// directory so both updated friend sets are visible.
func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	if _, err := c.UserID(); err != nil {
		return err
	}
	if err := c.friends.AcceptRequest(ctx, requestID); err != nil {
		return err
	}
	if err := c.RefreshUsers(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AcceptFriendRequest",
			"error":    err.Error(),
		}).Warn("Directory refresh after accept failed")
	}
	return nil
}

// DeclineFriendRequest declines a pending request.
func (c *Client) DeclineFriendRequest(ctx context.Context, requestID string) error {
	if _, err := c.UserID(); err != nil {
		return err
	}
	return c.friends.DeclineRequest(ctx, requestID)
}

// FriendshipStatus reports the relationship with another user.
func (c *Client) FriendshipStatus(ctx context.Context, otherID string) (friendship.Status, error) {
	selfID, err := c.UserID()
	if err != nil {
		return friendship.StatusNone, err
	}
	return c.friends.StatusBetween(ctx, selfID, otherID)
}

// PendingRequests returns the cached pending requests addressed to
// self.
func (c *Client) PendingRequests() []*storage.FriendRequest {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == nil {
		return nil
	}
	return state.Requests()
}

// Users returns the cached user directory.
func (c *Client) Users() []*storage.User {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == nil {
		return nil
	}
	return state.Users()
}

// SearchUsers filters the directory by name or username.
func (c *Client) SearchUsers(query string) []*storage.User {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == nil {
		return nil
	}
	return state.Search(query)
}

// RefreshUsers reloads the directory from the store, excluding self.
func (c *Client) RefreshUsers(ctx context.Context) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == nil {
		return ErrNotLoggedIn
	}

	docs, err := c.backend.ListDocuments(ctx, storage.CollectionUsers)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]*storage.User, 0, len(docs))
	for _, doc := range docs {
		user, err := storage.UserFromDocument(doc)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RefreshUsers",
				"error":    err.Error(),
			}).Warn("Skipping malformed user document")
			continue
		}
		if user.ID == state.UserID() {
			state.SetProfile(user)
			continue
		}
		users = append(users, user)
	}
	state.SetUsers(users)
	return nil
}

// startSession builds the per-login state, loads the caches, and opens
// the three realtime channels.
func (c *Client) startSession(ctx context.Context, userID string, profile *storage.User) error {
	state := session.New(userID, profile)
	conv := conversation.NewReconciler(userID, c.backend, c.keys)
	channels := realtime.NewManager(c.backend, realtime.Options{
		BaseDelay:   c.opts.ReconnectBaseDelay,
		MaxAttempts: c.opts.MaxReconnectAttempts,
		OnDown:      c.channelDown,
	})

	c.mu.Lock()
	if c.channels != nil {
		c.mu.Unlock()
		return errors.New("a session is already active")
	}
	c.state = state
	c.conv = conv
	c.channels = channels
	c.mu.Unlock()

	subscriptions := map[string]func(storage.Event){
		storage.Topic(storage.CollectionMessages): c.handleMessageEvent,
		storage.Topic(storage.CollectionRequests): c.handleRequestEvent,
		storage.Topic(storage.CollectionUsers):    c.handleUserEvent,
	}
	for topic, handler := range subscriptions {
		if err := channels.Subscribe(topic, handler); err != nil {
			channels.Close()
			c.mu.Lock()
			c.state, c.conv, c.channels = nil, nil, nil
			c.mu.Unlock()
			return fmt.Errorf("failed to subscribe %s: %w", topic, err)
		}
	}

	if err := c.RefreshUsers(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "startSession",
			"error":    err.Error(),
		}).Warn("Initial directory load failed")
	}
	if err := c.refreshRequests(ctx, state, conv); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "startSession",
			"error":    err.Error(),
		}).Warn("Initial request load failed")
	}

	logrus.WithFields(logrus.Fields{
		"function": "startSession",
		"user_id":  userID,
	}).Info("Session started")
	return nil
}

// refreshRequests loads pending requests into the cache and seeds the
// unread counter from them.
func (c *Client) refreshRequests(ctx context.Context, state *session.State, conv *conversation.Reconciler) error {
	requests, err := c.friends.PendingRequests(ctx, state.UserID())
	if err != nil {
		return err
	}
	state.SetRequests(requests)
	for range requests {
		conv.NoteRequest()
	}
	return nil
}

func (c *Client) reconciler() (*conversation.Reconciler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conv == nil {
		return nil, ErrNotLoggedIn
	}
	return c.conv, nil
}

// handleMessageEvent routes message-collection events: merge into the
// reconciler, then surface through the callback when self is involved.
func (c *Client) handleMessageEvent(ev storage.Event) {
	c.mu.RLock()
	conv := c.conv
	state := c.state
	callback := c.onMessage
	c.mu.RUnlock()
	if conv == nil || state == nil {
		return
	}

	conv.MergeLive(ev)

	if callback == nil || ev.Action != storage.ActionCreate {
		return
	}
	msg, err := storage.MessageFromDocument(ev.Payload)
	if err != nil || !msg.Involves(state.UserID()) {
		return
	}
	callback(*msg)
}

// handleRequestEvent routes request-collection events: new pending
// requests addressed to self enter the cache and count as unread;
// updates retire terminal requests from the cache.
func (c *Client) handleRequestEvent(ev storage.Event) {
	c.mu.RLock()
	conv := c.conv
	state := c.state
	callback := c.onRequest
	c.mu.RUnlock()
	if conv == nil || state == nil {
		return
	}

	request, err := storage.RequestFromDocument(ev.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleRequestEvent",
			"error":    err.Error(),
		}).Warn("Ignoring malformed request event")
		return
	}

	switch ev.Action {
	case storage.ActionCreate:
		if request.ToUserID != state.UserID() || request.Status != storage.RequestPending {
			return
		}
		state.UpsertRequest(request)
		conv.NoteRequest()
		if callback != nil {
			callback(*request)
		}
	case storage.ActionUpdate:
		state.UpsertRequest(request)
	}
}

// handleUserEvent keeps the directory cache current.
func (c *Client) handleUserEvent(ev storage.Event) {
	c.mu.RLock()
	state := c.state
	callback := c.onUserUpdate
	c.mu.RUnlock()
	if state == nil {
		return
	}

	user, err := storage.UserFromDocument(ev.Payload)
	if err != nil {
		return
	}
	state.UpsertUser(user)
	if callback != nil {
		callback(*user)
	}
}

func (c *Client) channelDown(topic string) {
	c.mu.RLock()
	callback := c.onChannelDown
	c.mu.RUnlock()

	logrus.WithFields(logrus.Fields{
		"function": "channelDown",
		"topic":    topic,
	}).Error("Realtime channel permanently disconnected")
	if callback != nil {
		callback(topic)
	}
}
