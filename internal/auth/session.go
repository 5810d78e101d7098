package auth

import (
	"github.com/notably/notably/internal/google"
)

// SessionView is the read-only projection of a credential handed to the UI
// layer. It is computed fresh on every session read so it can never drift
// from the underlying credential.
type SessionView struct {
	AccessToken    string `json:"accessToken,omitempty"`
	GrantedScope   string `json:"scope,omitempty"`
	HasGmailAccess bool   `json:"hasGmailAccess"`
	Error          string `json:"error,omitempty"`
}

// NewSessionView derives the projection from the current credential.
func NewSessionView(c Credential) SessionView {
	return SessionView{
		AccessToken:    c.AccessToken,
		GrantedScope:   c.GrantedScope,
		HasGmailAccess: HasScope(c.GrantedScope, google.GmailReadonlyScope),
		Error:          string(c.LastError),
	}
}
