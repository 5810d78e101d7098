package server

import (
	"net/url"
	"strings"

	"github.com/notably/notably/internal/auth"
	"github.com/notably/notably/internal/google"
)

// Gate route constants. The gate only guards mail-prefixed pages; every
// other route is outside its jurisdiction.
const (
	MailPathPrefix      = "/mail"
	SigninPath          = "/auth/signin"
	GmailPermissionPath = "/auth/gmail-permission"
)

// Decision is the outcome of one gate evaluation. Exactly one of Allow or
// RedirectURL is meaningful.
type Decision struct {
	Allow       bool
	RedirectURL string
}

// Gate decides whether a request may reach a mail page. It is a pure
// function over (path, credential): no network calls, no side effects.
//
// The credential handed to Decide must already have passed through the
// Manager; the gate trusts its state and never refreshes.
type Gate struct{}

// Decide evaluates the gate for one request.
//
// Paths outside the mail prefix are admitted unconditionally, as are the
// public recovery paths so a locked-out user can always reach them. A
// missing or unusable credential redirects to sign-in with the original
// path as callback target; a usable credential lacking the Gmail scope
// redirects to the permission-grant flow instead, because the user has a
// session and merely lacks one scope.
func (Gate) Decide(path string, cred *auth.Credential, usable bool) Decision {
	if path == SigninPath || path == GmailPermissionPath {
		return Decision{Allow: true}
	}
	if !strings.HasPrefix(path, MailPathPrefix) {
		return Decision{Allow: true}
	}

	if cred == nil || !usable {
		return Decision{RedirectURL: SigninPath + "?callbackUrl=" + url.QueryEscape(path)}
	}

	if !auth.HasScope(cred.GrantedScope, google.GmailReadonlyScope) {
		return Decision{RedirectURL: GmailPermissionPath}
	}

	return Decision{Allow: true}
}
