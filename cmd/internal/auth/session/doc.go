// Package session issues, validates and revokes Parley login sessions.
//
// A session is a server-side row (memory or Postgres) plus a PASETO
// v4.public token carrying the user and session IDs. Validation checks the
// signature and then the row, so revocation and expiry are authoritative on
// the server.
//
// Guard extracts the credential from an HTTP request (bearer header first,
// then the session cookie) and is shared by the auth endpoints and the
// websocket handshake.
package session
