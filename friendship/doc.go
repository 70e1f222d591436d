// Package friendship implements the request/accept/decline state
// machine that gates who may message whom.
//
// States per ordered pair (A initiates):
//
//	none → pending → {accepted, rejected}
//
// Accepted and rejected are terminal. Accepting performs a dual write,
// adding each user to the other's friend set before flipping the
// request status; if either write fails, the request stays pending and
// neither friend set is left changed.
//
// IsFriend is the sole guard for message sending. Callers must re-check
// it immediately before accepting a new message rather than trusting
// cached state, since a relationship can be revoked between reads.
package friendship
