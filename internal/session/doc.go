// Package session provides server-side sessions keyed by a signed cookie.
//
// Session data lives in a Store (Redis in production). The cookie carries
// only the session id, signed with the configured secret. Sessions load on
// first use and are committed just before the response header is written:
// new sessions that were never modified are not stored and get no cookie,
// unmodified sessions only have their expiry extended, and modified or
// destroyed sessions are written through.
package session
