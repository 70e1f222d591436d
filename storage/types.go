package storage

import (
	"fmt"
	"time"
)

// Collection identifies one of the three logical document collections.
type Collection string

const (
	CollectionUsers    Collection = "users"
	CollectionMessages Collection = "messages"
	CollectionRequests Collection = "requests"
)

// Action tags a change event with the mutation that produced it.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Document is the loosely-typed shape documents arrive in from the
// remote store. It never crosses into core logic; narrow it first.
type Document map[string]interface{}

// Event is one realtime change notification.
type Event struct {
	Collection Collection
	Action     Action
	Payload    Document
}

// RequestStatus is the lifecycle state of a friend request. Accepted
// and rejected are terminal.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// User is the narrowed shape of a users-collection document.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Username  string
	Friends   []string
	PublicKey string
	CreatedAt time.Time
}

// HasFriend reports whether friendID is in the user's friend set.
func (u *User) HasFriend(friendID string) bool {
	for _, id := range u.Friends {
		if id == friendID {
			return true
		}
	}
	return false
}

// FriendRequest is the narrowed shape of a requests-collection document.
type FriendRequest struct {
	ID         string
	FromUserID string
	ToUserID   string
	Status     RequestStatus
	CreatedAt  time.Time
}

// Message is the narrowed shape of a messages-collection document.
// Messages are append-only; Ciphertext and WrappedKey are produced by
// the crypto layer and never stored in the clear.
type Message struct {
	ID         string
	FromUserID string
	ToUserID   string
	Ciphertext string
	WrappedKey string
	FileID     string
	CreatedAt  time.Time
}

// Involves reports whether userID is the sender or recipient.
func (m *Message) Involves(userID string) bool {
	return m.FromUserID == userID || m.ToUserID == userID
}

// Peer returns the other participant of the message from selfID's
// point of view.
func (m *Message) Peer(selfID string) string {
	if m.FromUserID == selfID {
		return m.ToUserID
	}
	return m.FromUserID
}

// UserFromDocument narrows a users-collection document, rejecting
// documents missing required fields.
func UserFromDocument(doc Document) (*User, error) {
	id, err := requireString(doc, "id")
	if err != nil {
		return nil, err
	}
	username, err := requireString(doc, "username")
	if err != nil {
		return nil, err
	}

	return &User{
		ID:        id,
		FirstName: optionalString(doc, "firstName"),
		LastName:  optionalString(doc, "lastName"),
		Username:  username,
		Friends:   stringSlice(doc, "friends"),
		PublicKey: optionalString(doc, "publicKey"),
		CreatedAt: timeField(doc, "createdAt"),
	}, nil
}

// Document converts the user back to its wire shape.
func (u *User) Document() Document {
	friends := u.Friends
	if friends == nil {
		friends = []string{}
	}
	return Document{
		"id":        u.ID,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"username":  u.Username,
		"friends":   friends,
		"publicKey": u.PublicKey,
		"createdAt": u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// RequestFromDocument narrows a requests-collection document.
func RequestFromDocument(doc Document) (*FriendRequest, error) {
	id, err := requireString(doc, "id")
	if err != nil {
		return nil, err
	}
	from, err := requireString(doc, "fromUserId")
	if err != nil {
		return nil, err
	}
	to, err := requireString(doc, "toUserId")
	if err != nil {
		return nil, err
	}
	status, err := requireString(doc, "status")
	if err != nil {
		return nil, err
	}

	switch RequestStatus(status) {
	case RequestPending, RequestAccepted, RequestRejected:
	default:
		return nil, fmt.Errorf("request %s has unknown status %q", id, status)
	}

	return &FriendRequest{
		ID:         id,
		FromUserID: from,
		ToUserID:   to,
		Status:     RequestStatus(status),
		CreatedAt:  timeField(doc, "createdAt"),
	}, nil
}

// Document converts the request back to its wire shape.
func (r *FriendRequest) Document() Document {
	return Document{
		"id":         r.ID,
		"fromUserId": r.FromUserID,
		"toUserId":   r.ToUserID,
		"status":     string(r.Status),
		"createdAt":  r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// MessageFromDocument narrows a messages-collection document.
func MessageFromDocument(doc Document) (*Message, error) {
	id, err := requireString(doc, "id")
	if err != nil {
		return nil, err
	}
	from, err := requireString(doc, "fromUserId")
	if err != nil {
		return nil, err
	}
	to, err := requireString(doc, "toUserId")
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:         id,
		FromUserID: from,
		ToUserID:   to,
		Ciphertext: optionalString(doc, "content"),
		WrappedKey: optionalString(doc, "encryptedKey"),
		FileID:     optionalString(doc, "fileId"),
		CreatedAt:  timeField(doc, "createdAt"),
	}, nil
}

// Document converts the message back to its wire shape.
func (m *Message) Document() Document {
	return Document{
		"id":           m.ID,
		"fromUserId":   m.FromUserID,
		"toUserId":     m.ToUserID,
		"content":      m.Ciphertext,
		"encryptedKey": m.WrappedKey,
		"fileId":       m.FileID,
		"createdAt":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func requireString(doc Document, key string) (string, error) {
	v, ok := doc[key]
	if !ok {
		return "", fmt.Errorf("document missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("document field %q is not a usable string", key)
	}
	return s, nil
}

func optionalString(doc Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

func stringSlice(doc Document, key string) []string {
	switch v := doc[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		// JSON decoding produces []interface{}.
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func timeField(doc Document, key string) time.Time {
	s, ok := doc[key].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
