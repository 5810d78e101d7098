// Package notes holds the note model and its storage.
//
// Notes carry optional reminder fields as user-entered strings; the
// calendar package validates and schedules them. The in-memory store is
// per-owner and safe for concurrent use.
package notes
