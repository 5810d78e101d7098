// Package auth owns the Google credential lifecycle for a signed-in user.
//
// A Credential is created once from the OAuth code exchange, then mutated in
// place by the Manager on every refresh attempt. The Manager is the only
// component allowed to talk to the provider token endpoint; everything else
// consumes the credential through EnsureValid and the SessionView projection.
package auth
