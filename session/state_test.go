package session

import (
	"testing"

	"github.com/madhavapavan/CipherChat/storage"
)

func directory() []*storage.User {
	return []*storage.User{
		{ID: "u2", FirstName: "Ada", LastName: "Lovelace", Username: "ada"},
		{ID: "u3", FirstName: "Grace", LastName: "Hopper", Username: "grace"},
		{ID: "u4", FirstName: "Alan", LastName: "Turing", Username: "alan"},
	}
}

func TestSearch(t *testing.T) {
	s := New("u1", &storage.User{ID: "u1", Username: "self"})
	s.SetUsers(directory())

	testCases := []struct {
		name  string
		query string
		want  []string
	}{
		{"Empty query returns everyone", "", []string{"ada", "alan", "grace"}},
		{"First name match", "ada", []string{"ada"}},
		{"Case insensitive", "GRACE", []string{"grace"}},
		{"Last name match", "turing", []string{"alan"}},
		{"Substring match", "a", []string{"ada", "alan", "grace"}},
		{"No match", "zzz", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Search(tc.query)
			if len(got) != len(tc.want) {
				t.Fatalf("Search(%q) returned %d users, want %d", tc.query, len(got), len(tc.want))
			}
			for i, u := range got {
				if u.Username != tc.want[i] {
					t.Errorf("Search(%q)[%d] = %s, want %s", tc.query, i, u.Username, tc.want[i])
				}
			}
		})
	}
}

func TestUpsertUser(t *testing.T) {
	s := New("u1", &storage.User{ID: "u1", Username: "self"})
	s.SetUsers(directory())

	s.UpsertUser(&storage.User{ID: "u2", FirstName: "Augusta", Username: "ada"})
	got, ok := s.User("u2")
	if !ok || got.FirstName != "Augusta" {
		t.Errorf("Directory update lost: %+v", got)
	}

	// Events about self update the profile, not the directory.
	s.UpsertUser(&storage.User{ID: "u1", Username: "self", FirstName: "Me"})
	if s.Profile().FirstName != "Me" {
		t.Error("Own profile not updated")
	}
	if _, ok := s.User("u1"); ok {
		t.Error("Self leaked into the directory")
	}
}

func TestRequestCacheLifecycle(t *testing.T) {
	s := New("u1", nil)

	pending := &storage.FriendRequest{ID: "r1", FromUserID: "u2", ToUserID: "u1", Status: storage.RequestPending}
	s.UpsertRequest(pending)
	if len(s.Requests()) != 1 {
		t.Fatal("Pending request not cached")
	}

	// Terminal status removes it.
	accepted := *pending
	accepted.Status = storage.RequestAccepted
	s.UpsertRequest(&accepted)
	if len(s.Requests()) != 0 {
		t.Error("Terminal request stayed in the cache")
	}
}

func TestReset(t *testing.T) {
	s := New("u1", &storage.User{ID: "u1", Username: "self"})
	s.SetUsers(directory())
	s.UpsertRequest(&storage.FriendRequest{ID: "r1", Status: storage.RequestPending})

	s.Reset()
	if s.UserID() != "" || s.Profile() != nil {
		t.Error("Identity survived Reset")
	}
	if len(s.Users()) != 0 || len(s.Requests()) != 0 {
		t.Error("Caches survived Reset")
	}
}
