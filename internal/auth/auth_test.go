package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func TestLoadTokenPythonFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	os.WriteFile(path, []byte(`{
  "token": "ya29.abc",
  "refresh_token": "1//refresh",
  "token_uri": "https://oauth2.googleapis.com/token",
  "expiry": "2026-03-01T10:00:00.123456Z"
}`), 0o600)

	tok, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if tok.AccessToken != "ya29.abc" || tok.RefreshToken != "1//refresh" {
		t.Errorf("unexpected token %+v", tok)
	}
	if tok.Expiry.Year() != 2026 || tok.Expiry.Month() != time.March {
		t.Errorf("unexpected expiry %v", tok.Expiry)
	}
}

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	in := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).UTC()}
	if err := SaveToken(path, in); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600, got %v", info.Mode().Perm())
	}
	out, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if out.AccessToken != "a" || out.RefreshToken != "r" {
		t.Errorf("unexpected token %+v", out)
	}
}

func TestLoadTokenRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	os.WriteFile(path, []byte(`{}`), 0o600)
	if _, err := LoadToken(path); err == nil {
		t.Error("expected error for empty token")
	}
}

type staticSource struct{ tok *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestSavingSourcePersistsNewToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	s := &savingSource{base: staticSource{&oauth2.Token{AccessToken: "fresh"}}, path: path, last: "stale", logger: zap.NewNop()}
	if _, err := s.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	saved, err := LoadToken(path)
	if err != nil || saved.AccessToken != "fresh" {
		t.Errorf("expected fresh token saved, got %+v, %v", saved, err)
	}
}
