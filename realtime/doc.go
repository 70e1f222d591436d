// Package realtime keeps the three change-feed subscriptions (messages,
// requests, users) alive across network failures.
//
// Each channel runs an independent state machine:
//
//	Connected → (on error) Reconnecting → Connected
//	Reconnecting → Exhausted after the attempt budget is spent
//
// Attempt n waits n×BaseDelay before redialing; any delivered event
// resets the counter. A channel that fails MaxAttempts consecutive times
// gives up permanently, surfaces the disconnect through the OnDown
// callback, and never invokes its handler again. Silent infinite retry
// is deliberately impossible.
//
// Every inbound event is routed to exactly one handler, the one
// registered for its channel's topic. Unsubscription is idempotent and
// releases all channel resources.
package realtime
