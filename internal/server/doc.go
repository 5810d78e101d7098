// Package server is the HTTP surface of the application.
//
// It exposes the JSON API the UI consumes (/api/session, /api/mail,
// /api/calendar, /api/notes), the OAuth consent flow under /auth, and the
// health endpoints for orchestration probes. Mail pages sit behind an
// access gate that redirects users without a session to sign-in and users
// without the Gmail scope to the permission-grant flow.
//
// Sessions are server-side: an opaque random ID travels in a cookie and
// maps to the credential, which never leaves the process. Prometheus
// metrics are served on a separate listener.
package server
