// Package calendar creates reminder events on the user's primary Google
// Calendar.
//
// A reminder is a fixed one-hour event derived from a note's reminder date
// and time. Input problems (missing fields, impossible dates) are rejected
// locally and never reach the provider; provider failures are mapped to a
// small typed taxonomy so callers can distinguish a revoked grant from an
// outage.
package calendar
