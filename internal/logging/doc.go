// Package logging provides slog helpers shared across the codebase:
// consistent attribute keys, safe token masking, and session anonymization.
// Failure details stay in typed return values; logging here is diagnostic
// context only.
package logging
