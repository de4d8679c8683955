// Package auth provides Google OAuth2 authentication for the helpdesk mailbox.
//
// credentials.json is the OAuth client downloaded from the Google console.
// token.json may be either the oauth2.Token JSON written by this package or
// the format written by Python's google-auth library.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes needed to read threads, send replies and clear the unread label.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
}

// pythonToken is the token.json layout of google-auth.
type pythonToken struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	Expiry       string `json:"expiry"`
}

// GmailService returns an authenticated Gmail API service. Refreshed tokens
// are written back to tokenPath.
func GmailService(ctx context.Context, credentialsPath, tokenPath string, logger *zap.Logger) (*gmail.Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config, err := loadOAuthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}
	token, err := LoadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token from %s: %w", tokenPath, err)
	}

	ts := &savingSource{
		base:   config.TokenSource(ctx, token),
		path:   tokenPath,
		last:   token.AccessToken,
		logger: logger,
	}
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return gmail.NewService(ctx, option.WithTokenSource(ts))
}

func loadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials from %s: %w", credentialsPath, err)
	}
	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return config, nil
}

// LoadToken reads token.json in either supported layout.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var pt pythonToken
	if err := json.Unmarshal(data, &pt); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if pt.Token != "" {
		return &oauth2.Token{
			AccessToken:  pt.Token,
			RefreshToken: pt.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       parseExpiry(pt.Expiry),
		}, nil
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("parse token: no access or refresh token")
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	return &tok, nil
}

// parseExpiry accepts the microsecond ISO 8601 google-auth writes.
func parseExpiry(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999Z",
		"2006-01-02T15:04:05Z",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SaveToken writes a token as oauth2.Token JSON with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// savingSource persists every newly minted access token.
type savingSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	path   string
	last   string
	logger *zap.Logger
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("Could not save refreshed token", zap.String("path", s.path), zap.Error(err))
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}
