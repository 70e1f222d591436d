// Package storage abstracts the remote collaborator CipherChat is
// layered over: a document store with three logical collections (users,
// messages, requests), a file store, an account service, and a realtime
// change-event feed.
//
// The core never sees the remote platform's loosely-typed documents
// directly. Schema types (User, FriendRequest, Message) narrow each
// document at the boundary and reject anything missing required fields.
//
// Two implementations of Backend ship with the package:
//
//   - RemoteStore: HTTP REST client plus a websocket change feed.
//   - MemoryStore: in-memory store with a synchronous feed, used by the
//     test suite and the demo.
//
// Realtime events carry (collection, action, payload) so that the
// dispatch layer can attribute every event to exactly one handler.
package storage
