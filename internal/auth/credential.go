package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// RefreshError identifies why a credential entered the errored state.
type RefreshError string

const (
	// RefreshErrorNone means the credential is usable (or merely expired).
	RefreshErrorNone RefreshError = ""

	// RefreshTokenNotAvailable means the access token expired and no refresh
	// token exists. Terminal: only a fresh sign-in produces a usable credential.
	RefreshTokenNotAvailable RefreshError = "RefreshTokenNotAvailable"

	// RefreshAccessTokenError means the provider rejected the refresh call or
	// the call itself failed. Terminal, like RefreshTokenNotAvailable.
	RefreshAccessTokenError RefreshError = "RefreshAccessTokenError"
)

// Credential holds the access/refresh token pair and its metadata for one
// signed-in user. It is mutated only by the Manager; an errored credential
// never carries an access token.
type Credential struct {
	AccessToken  string
	RefreshToken string

	// ExpiresAt is the absolute expiry of AccessToken. The zero value is
	// treated as already expired.
	ExpiresAt time.Time

	// GrantedScope is the space-delimited scope set the provider actually
	// granted at consent time.
	GrantedScope string

	LastError RefreshError
}

// State describes where a credential sits in its lifecycle.
type State int

const (
	// StateFresh: access token present and not yet expired.
	StateFresh State = iota
	// StateExpired: no usable access token, refresh not yet attempted.
	StateExpired
	// StateErrored: a refresh attempt failed; terminal for this credential.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateExpired:
		return "expired"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// State reports the credential's lifecycle state at the given instant.
func (c Credential) State(now time.Time) State {
	if c.LastError != RefreshErrorNone {
		return StateErrored
	}
	if c.AccessToken != "" && now.Before(c.ExpiresAt) {
		return StateFresh
	}
	return StateExpired
}

// Usable reports whether the credential carries a valid access token right now.
func (c Credential) Usable(now time.Time) bool {
	return c.State(now) == StateFresh
}

// CredentialFromToken builds a Credential from a token returned by the
// OAuth2 code exchange. The granted scope arrives as the "scope" extra field
// of the token response.
func CredentialFromToken(t *oauth2.Token) Credential {
	cred := Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
	if scope, ok := t.Extra("scope").(string); ok {
		cred.GrantedScope = scope
	}
	return cred
}
