// Package icloud implements an authenticated client session against Apple's
// iCloud web services: the SRP sign-in handshake, the direct password
// fallback, the two-factor verification sub-flow, and persistence of the
// resulting session (tokens, trust state, cookies) across process restarts.
//
// The only type collaborators interact with is Session. A Session is an
// explicit handle created with New; there is no package-level client.
// Downstream service clients (e.g. Hide My Email) issue calls through
// Session.Request so header injection, session-header extraction and error
// translation happen in exactly one place.
package icloud
