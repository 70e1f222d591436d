// Package conversation reconciles independently-arriving message data
// into one consistent view per peer.
//
// History fetches and live push events race: a message created while a
// history fetch is in flight can arrive through both paths, and no
// ordering holds between the fetch completing and the event arriving.
// The Reconciler therefore deduplicates by message id on every merge,
// and keeps each peer timeline totally ordered by (createdAt, id).
//
// Messages for peers other than the currently open conversation are
// routed to a most-recent-first "new messages" list and counted toward
// the unread counter. Opening a conversation clears that peer's unread
// contribution.
//
// A conversation switch makes stale in-flight fetches inert: each fetch
// is tagged with the peer and open-epoch it was issued under, and a
// result arriving after the view moved on merges nothing.
package conversation
