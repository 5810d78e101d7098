// Package gmail provides a read-only client for the user's mailbox.
//
// The client lists message IDs, fetches full messages concurrently, and
// decodes MIME bodies into plain text for display. Every provider failure
// is classified into one of three outcomes so the web layer can decide
// between reauthentication, a permission grant, or a generic error:
//
//   - AuthError: HTTP 401, the token is invalid or expired upstream
//   - PermissionError: HTTP 403, the Gmail scope is missing or was revoked
//   - ProtocolError: any other non-2xx status or a malformed response
//
// A client is scoped to a single access token and constructed per request.
package gmail
