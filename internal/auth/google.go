package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"tradeshell/internal/config"
)

// ErrGoogleNotConfigured is returned when no Google client is configured.
var ErrGoogleNotConfigured = errors.New("google oauth client not configured")

// GoogleOAuth wraps the OAuth 2.0 flow for Google sign-in. The resulting
// OpenID id_token is handed to the identity provider, which owns the account.
type GoogleOAuth struct {
	config *oauth2.Config
}

// NewGoogleOAuth constructs an OAuth helper using project configuration.
func NewGoogleOAuth(cfg config.Config) (*GoogleOAuth, error) {
	if !cfg.GoogleConfigured() {
		return nil, ErrGoogleNotConfigured
	}

	redirect := cfg.OAuthRedirectURL
	if redirect == "" {
		redirect = fmt.Sprintf("http://localhost:%s/auth/google/callback", cfg.Port)
	}

	return newGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, redirect, google.Endpoint), nil
}

func newGoogleOAuth(clientID, clientSecret, redirect string, endpoint oauth2.Endpoint) *GoogleOAuth {
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirect,
			Scopes: []string{
				"openid",
				"email",
				"profile",
			},
			Endpoint: endpoint,
		},
	}
}

// AuthCodeURL returns the Google authorization URL for the provided state token.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange redeems the authorization code and returns the OpenID id_token.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.New("empty authorization code")
	}

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return "", errors.New("google response missing id_token")
	}
	return idToken, nil
}
