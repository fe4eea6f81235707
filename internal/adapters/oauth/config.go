// Package oauth refreshes Google OAuth tokens for pool accounts and runs
// the browser enrollment flow that creates new accounts.
package oauth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested for Code Assist access.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// NewConfig returns the OAuth client configuration against Google's
// endpoint.
func NewConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       append([]string(nil), Scopes...),
	}
}
