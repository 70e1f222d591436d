package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryStore is an in-memory Backend with a synchronous change feed.
// It backs the test suite and the demo; events are delivered on the
// mutating goroutine, in mutation order, which makes reconciliation
// tests deterministic.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[Collection]map[string]Document
	files       map[string][]byte
	accounts    map[string]memoryAccount
	currentUser string

	subMu   sync.RWMutex
	subs    map[string]map[int]memorySubscription
	nextSub int
}

type memoryAccount struct {
	password string
	userID   string
}

type memorySubscription struct {
	onEvent func(Event)
	onError func(error)
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[Collection]map[string]Document{
			CollectionUsers:    {},
			CollectionMessages: {},
			CollectionRequests: {},
		},
		files:    make(map[string][]byte),
		accounts: make(map[string]memoryAccount),
		subs:     make(map[string]map[int]memorySubscription),
	}
}

// CreateDocument implements Store. An empty id gets a generated uuid.
func (s *MemoryStore) CreateDocument(ctx context.Context, col Collection, id string, fields Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	doc := cloneDocument(fields)
	doc["id"] = id

	s.mu.Lock()
	docs, ok := s.collections[col]
	if !ok {
		s.mu.Unlock()
		return nil, errors.New("unknown collection " + string(col))
	}
	if _, exists := docs[id]; exists {
		s.mu.Unlock()
		return nil, errors.New("document id already exists")
	}
	docs[id] = doc
	s.mu.Unlock()

	s.emit(Event{Collection: col, Action: ActionCreate, Payload: cloneDocument(doc)})
	return cloneDocument(doc), nil
}

// GetDocument implements Store.
func (s *MemoryStore) GetDocument(ctx context.Context, col Collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[col][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// UpdateDocument implements Store, merging fields into the stored
// document.
func (s *MemoryStore) UpdateDocument(ctx context.Context, col Collection, id string, fields Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	doc, ok := s.collections[col][id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	for k, v := range cloneDocument(fields) {
		doc[k] = v
	}
	doc["id"] = id
	updated := cloneDocument(doc)
	s.mu.Unlock()

	s.emit(Event{Collection: col, Action: ActionUpdate, Payload: cloneDocument(updated)})
	return updated, nil
}

// ListDocuments implements Store with equality filters.
func (s *MemoryStore) ListDocuments(ctx context.Context, col Collection, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, doc := range s.collections[col] {
		if matches(doc, filters) {
			out = append(out, cloneDocument(doc))
		}
	}
	return out, nil
}

// UploadFile implements FileStore. The size gate runs before anything
// is stored.
func (s *MemoryStore) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) > MaxFileSize {
		return "", ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.files[id] = stored
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "UploadFile",
		"file_id":   id,
		"file_name": name,
		"size":      len(data),
	}).Debug("Stored file in memory bucket")
	return id, nil
}

// FilePreviewURL implements FileStore.
func (s *MemoryStore) FilePreviewURL(fileID string) string {
	return "memory://files/" + fileID + "/preview"
}

// FileDownloadURL implements FileStore.
func (s *MemoryStore) FileDownloadURL(fileID string) string {
	return "memory://files/" + fileID + "/download"
}

// FileCount reports how many files the bucket holds.
func (s *MemoryStore) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// CreateAccount implements Accounts and logs the new account in, the
// way the remote platform's create-then-login flow behaves.
func (s *MemoryStore) CreateAccount(ctx context.Context, email, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; exists {
		return "", errors.New("account already exists")
	}
	userID := uuid.NewString()
	s.accounts[email] = memoryAccount{password: password, userID: userID}
	s.currentUser = userID
	return userID, nil
}

// Login implements Accounts.
func (s *MemoryStore) Login(ctx context.Context, email, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok || acct.password != password {
		return "", errors.New("invalid credentials")
	}
	s.currentUser = acct.userID
	return acct.userID, nil
}

// CurrentUser implements Accounts. MemoryStore tracks a single session:
// the most recent login wins. Clients capture the id returned by Login
// instead of re-querying.
func (s *MemoryStore) CurrentUser(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == "" {
		return "", ErrNoSession
	}
	return s.currentUser, nil
}

// Logout implements Accounts.
func (s *MemoryStore) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = ""
	return nil
}

// Subscribe implements Subscriber. Events are delivered synchronously
// on the mutating goroutine.
func (s *MemoryStore) Subscribe(topic string, onEvent func(Event), onError func(error)) (func(), error) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[int]memorySubscription)
	}
	s.subs[topic][id] = memorySubscription{onEvent: onEvent, onError: onError}
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[topic], id)
			s.subMu.Unlock()
		})
	}, nil
}

func (s *MemoryStore) emit(ev Event) {
	topic := Topic(ev.Collection)

	s.subMu.RLock()
	targets := make([]memorySubscription, 0, len(s.subs[topic]))
	for _, sub := range s.subs[topic] {
		targets = append(targets, sub)
	}
	s.subMu.RUnlock()

	for _, sub := range targets {
		sub.onEvent(ev)
	}
}
