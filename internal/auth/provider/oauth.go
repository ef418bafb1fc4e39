// Package provider talks to the identity provider's token endpoint.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pysugar/tokenkeeper/internal/auth/token"
	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

// DefaultScopes are requested for Google accounts when none are configured.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Config describes an OAuth client registered with a provider.
type Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the provider's token endpoint. Empty means Google.
	TokenURL string
	Scopes   []string
}

// OAuthConfig returns the oauth2 config for cfg.
func OAuthConfig(cfg Config) *oauth2.Config {
	endpoint := googleOAuth.Endpoint
	if cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}

// OAuth2Exchanger refreshes tokens with the standard refresh_token grant.
type OAuth2Exchanger struct {
	name   string
	config *oauth2.Config
	client *http.Client
}

var _ token.Exchanger = (*OAuth2Exchanger)(nil)

// NewOAuth2Exchanger creates an exchanger. A nil client uses http.DefaultClient.
func NewOAuth2Exchanger(cfg Config, client *http.Client) *OAuth2Exchanger {
	name := cfg.Name
	if name == "" {
		name = "google"
	}
	return &OAuth2Exchanger{name: name, config: OAuthConfig(cfg), client: client}
}

// Exchange implements token.Exchanger. Errors are returned as
// *token.RefreshError so the caller never has to parse provider payloads.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, refreshToken string) (*token.Grant, error) {
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}

	src := e.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, token.NewRefreshError(classify(err), fmt.Errorf("%s token endpoint: %w", e.name, err))
	}

	grant := &token.Grant{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
	}
	// oauth2 carries the old refresh token over when none is returned.
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		grant.RefreshToken = tok.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		grant.Scopes = strings.Fields(scope)
	}
	return grant, nil
}

// classify maps token endpoint failures. RFC 6749 error codes win over the
// HTTP status, which wins over message markers. Any other 400 or 401 means
// the stored grant or client cannot be used as is, so it is terminal.
func classify(err error) token.Reason {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return token.ReasonTerminal
		case "temporarily_unavailable", "server_error":
			return token.ReasonTransient
		}
		if rerr.Response != nil {
			code := rerr.Response.StatusCode
			switch {
			case code >= 500 || code == http.StatusTooManyRequests:
				return token.ReasonTransient
			case code == http.StatusBadRequest || code == http.StatusUnauthorized:
				return token.ReasonTerminal
			}
		}
	}
	return token.Classify(err)
}
