// Package session holds the login-scoped application state: the
// current user, the user directory, and the request cache.
//
// A State is created on login and cleared on logout. It is passed
// explicitly to whatever needs it; there are no package globals. All
// methods are safe for concurrent use from event handlers.
package session
