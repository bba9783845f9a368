/*
Package session implements the session repository of the onboarding workflow.

The Repository is the only component allowed to read or write the key-value
store. It owns the blob format, keeps the store TTL aligned with each session's
fixed deadline and guards saves with an optimistic version stamp, serialized
per session by reference-counted in-process locks.
*/
package session
