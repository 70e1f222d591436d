package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/madhavapavan/CipherChat/storage"
)

// State is the per-login application state object.
type State struct {
	mu       sync.RWMutex
	userID   string
	profile  *storage.User
	users    map[string]*storage.User
	requests map[string]*storage.FriendRequest
}

// New creates state for a freshly logged-in user.
func New(userID string, profile *storage.User) *State {
	return &State{
		userID:   userID,
		profile:  profile,
		users:    make(map[string]*storage.User),
		requests: make(map[string]*storage.FriendRequest),
	}
}

// UserID returns the logged-in user's id.
func (s *State) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Profile returns the logged-in user's own profile.
func (s *State) Profile() *storage.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// SetProfile replaces the own profile after an update.
func (s *State) SetProfile(profile *storage.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
}

// SetUsers replaces the user directory.
func (s *State) SetUsers(users []*storage.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*storage.User, len(users))
	for _, u := range users {
		s.users[u.ID] = u
	}
}

// UpsertUser applies a user create/update event to the directory. The
// own profile is kept in sync when the event targets self.
func (s *State) UpsertUser(user *storage.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == s.userID {
		s.profile = user
		return
	}
	s.users[user.ID] = user
}

// User looks up one directory entry.
func (s *State) User(userID string) (*storage.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	return u, ok
}

// Users returns the directory sorted by username for stable listings.
func (s *State) Users() []*storage.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Search filters the directory by a case-insensitive substring match
// over first name, last name, and username. An empty query returns
// everyone.
func (s *State) Search(query string) []*storage.User {
	all := s.Users()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all
	}

	out := make([]*storage.User, 0, len(all))
	for _, u := range all {
		if strings.Contains(strings.ToLower(u.FirstName), query) ||
			strings.Contains(strings.ToLower(u.LastName), query) ||
			strings.Contains(strings.ToLower(u.Username), query) {
			out = append(out, u)
		}
	}
	return out
}

// SetRequests replaces the pending-request cache.
func (s *State) SetRequests(requests []*storage.FriendRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = make(map[string]*storage.FriendRequest, len(requests))
	for _, r := range requests {
		s.requests[r.ID] = r
	}
}

// UpsertRequest applies a request event: pending requests enter the
// cache, terminal ones leave it.
func (s *State) UpsertRequest(request *storage.FriendRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if request.Status == storage.RequestPending {
		s.requests[request.ID] = request
		return
	}
	delete(s.requests, request.ID)
}

// Requests returns the cached pending requests, oldest first.
func (s *State) Requests() []*storage.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.FriendRequest, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reset clears everything on logout.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.profile = nil
	s.users = make(map[string]*storage.User)
	s.requests = make(map[string]*storage.FriendRequest)
}
