package server

import (
	"fmt"
	"net/http"
)

// handleIndex serves the root page. Anything else under / that no route
// claims is a 404.
func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!doctype html><title>Notably</title><p>Notably API. Sign in at <a href="/auth/signin">/auth/signin</a>.</p>`)
}

// handleMailPage serves the mail pages. Reaching this handler means the
// access gate admitted the request; the page itself just bootstraps the
// client, which loads data from /api/mail.
func (a *App) handleMailPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!doctype html><title>Mail</title><div id="app" data-endpoint="/api/mail"></div>`)
}
