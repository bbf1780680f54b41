package models

import "strings"

// MCredential is an upstream access token as published by the login flow.
// AccessToken has the form "client_id:jwt".
type MCredential struct {
	AccessToken string `json:"access_token"`
	Generation  uint64 `json:"-"`
}

// ClientID returns the part before the first colon, or "" if absent.
func (c MCredential) ClientID() string {
	if i := strings.Index(c.AccessToken, ":"); i >= 0 {
		return c.AccessToken[:i]
	}
	return ""
}

// BearerToken returns the JWT used for REST calls.
func (c MCredential) BearerToken() string {
	if i := strings.Index(c.AccessToken, ":"); i >= 0 {
		return c.AccessToken[i+1:]
	}
	return c.AccessToken
}

// FeedToken returns the token presented on the streaming connection.
func (c MCredential) FeedToken() string {
	return c.AccessToken
}

// Valid reports whether the credential carries a usable token.
func (c MCredential) Valid() bool {
	return strings.TrimSpace(c.BearerToken()) != ""
}
