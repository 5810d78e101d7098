// Package google holds the OAuth2 configuration and scope literals for the
// Google consent flow. The scope checks elsewhere in the application compare
// against these exact strings.
package google
