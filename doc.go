// Package appkit provides the credential and job lifecycle core for a
// multi-tenant content product: JWT access tokens backed by revocable
// refresh sessions, an HTTP authentication gate, and a concurrency-safe
// state machine for externally executed generation jobs.
//
// Credential lifecycle:
//   - TokenService signs short-lived HS256 access tokens and mints opaque,
//     random refresh tokens persisted through the Sessions repository.
//     Access tokens are verified statelessly (signature + expiry); refresh
//     tokens are the revocation handle, so logout is instant for rotation
//     while an already-issued access token runs out its short remaining
//     lifetime.
//   - AuthGate turns inbound credentials into an authenticated identity,
//     attempting a silent rotation when the access token expired but a
//     usable refresh session exists. The principal is always re-read from
//     storage so privilege changes bind on the very next request.
//
// Job lifecycle:
//   - Jobs carry a caller-supplied identifier and a pending/processing/
//     completed/failed status. JobStateMachine centralizes the transition
//     graph, per-job serialization, hooks, and persistence; terminal
//     statuses absorb, and an identical redelivery of a terminal report is
//     accepted as a no-op so at-least-once worker callbacks stay safe.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the gate and
//     the state machine to describe login, rotation, logout, admin, and
//     job events. Sinks run best-effort (errors are logged) so you can
//     forward to a database or queue without blocking the request path.
package appkit
