package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/nominal-hq/qbo-gateway/config"
)

type Token = oauth2.Token

// Client talks to the QuickBooks identity service: it builds authorization
// URLs, exchanges authorization codes and refreshes expired access tokens.
type Client struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func NewClient(cfg *config.OAuthConfig, httpClient *http.Client) *Client {
	return &Client{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       strings.Fields(cfg.Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the provider authorization URL embedding the client ID,
// redirect URI, scope and the given anti-forgery state.
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// Exchange trades a one-time authorization code for an access/refresh token
// pair. A provider rejection comes back as *AuthError.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	token, err := c.config.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, wrapRetrieveError(err)
	}
	return token, nil
}

// Refresh obtains a new token pair using the refresh token. An *AuthError
// here means the refresh token itself is expired or revoked and the user
// must go through the authorization flow again.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := c.config.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, wrapRetrieveError(err)
	}
	return token, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func wrapRetrieveError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		authErr := &AuthError{
			Code:        rErr.ErrorCode,
			Description: rErr.ErrorDescription,
		}
		if rErr.Response != nil {
			authErr.StatusCode = rErr.Response.StatusCode
		}
		return authErr
	}
	return err
}

// RefreshTokenExpiry extracts the refresh-token lifetime QuickBooks reports
// as x_refresh_token_expires_in. Zero time when the provider omitted it.
func RefreshTokenExpiry(token *Token) time.Time {
	switch v := token.Extra("x_refresh_token_expires_in").(type) {
	case float64:
		return time.Now().Add(time.Duration(v) * time.Second)
	case int64:
		return time.Now().Add(time.Duration(v) * time.Second)
	default:
		return time.Time{}
	}
}
