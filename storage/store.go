package storage

import (
	"context"
	"errors"
)

// MaxFileSize is the upload ceiling (5 MiB). Oversize payloads are
// rejected before any network call is made.
const MaxFileSize = 5 * 1024 * 1024

// ErrNotFound indicates a document id that does not exist in the
// targeted collection.
var ErrNotFound = errors.New("document not found")

// ErrFileTooLarge indicates an upload payload above MaxFileSize.
var ErrFileTooLarge = errors.New("file size exceeds 5MB limit")

// ErrNoSession indicates an account operation without a logged-in user.
var ErrNoSession = errors.New("no active session")

// Filter is an equality constraint for ListDocuments.
type Filter struct {
	Field string
	Value string
}

// Equal builds an equality filter.
func Equal(field, value string) Filter {
	return Filter{Field: field, Value: value}
}

// Store is generic document CRUD against the three logical collections.
// An empty id on CreateDocument asks the implementation to assign one.
type Store interface {
	CreateDocument(ctx context.Context, col Collection, id string, fields Document) (Document, error)
	GetDocument(ctx context.Context, col Collection, id string) (Document, error)
	UpdateDocument(ctx context.Context, col Collection, id string, fields Document) (Document, error)
	ListDocuments(ctx context.Context, col Collection, filters ...Filter) ([]Document, error)
}

// FileStore is the remote file bucket.
type FileStore interface {
	// UploadFile stores data and returns the assigned file id. Payloads
	// above MaxFileSize fail with ErrFileTooLarge before any I/O.
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	FilePreviewURL(fileID string) string
	FileDownloadURL(fileID string) string
}

// Subscriber exposes the realtime change feed. The returned unsubscribe
// function is idempotent and releases all resources held for the
// subscription.
type Subscriber interface {
	Subscribe(topic string, onEvent func(Event), onError func(error)) (func(), error)
}

// Accounts covers the session operations the core consumes only to
// obtain a stable user id. Their internals belong to the remote
// platform.
type Accounts interface {
	CreateAccount(ctx context.Context, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	CurrentUser(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Backend is the full remote collaborator surface.
type Backend interface {
	Store
	FileStore
	Subscriber
	Accounts
}

// Topic names the change-feed topic for a collection.
func Topic(col Collection) string {
	return "collections." + string(col) + ".documents"
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, _ := doc[f.Field].(string)
		if v != f.Value {
			return false
		}
	}
	return true
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if slice, ok := v.([]string); ok {
			copied := make([]string, len(slice))
			copy(copied, slice)
			out[k] = copied
			continue
		}
		out[k] = v
	}
	return out
}
