package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/daviddao/helpdesk/internal/config"
	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/types"
)

func TestEnsureGitignore(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".gitignore")
	if err := os.WriteFile(path, []byte("node_modules"), 0o644); err != nil {
		t.Fatal(err)
	}

	ensureGitignore(root)
	ensureGitignore(root)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.HasPrefix(got, "node_modules\n") {
		t.Errorf("expected existing entry kept on its own line, got %q", got)
	}
	if n := strings.Count(got, ".helpdesk/"); n != 1 {
		t.Errorf("expected .helpdesk/ once, got %d times in %q", n, got)
	}
}

func TestResolvePaths(t *testing.T) {
	c := &config.Config{
		File:     filepath.Join("/srv", "desk", ".helpdesk", "config.yaml"),
		Database: config.DatabaseConfig{Path: filepath.Join(".helpdesk", "helpdesk.db")},
		Rules:    config.RulesConfig{Path: "/etc/rules.yaml"},
		Gmail:    config.GmailConfig{Credentials: "credentials.json"},
	}
	resolvePaths(c)

	if want := filepath.Join("/srv", "desk", ".helpdesk", "helpdesk.db"); c.Database.Path != want {
		t.Errorf("expected %s, got %s", want, c.Database.Path)
	}
	if c.Rules.Path != "/etc/rules.yaml" {
		t.Errorf("expected absolute path untouched, got %s", c.Rules.Path)
	}
	if want := filepath.Join("/srv", "desk", "credentials.json"); c.Gmail.Credentials != want {
		t.Errorf("expected %s, got %s", want, c.Gmail.Credentials)
	}
	if c.Gmail.Token != "" {
		t.Errorf("expected empty path to stay empty, got %s", c.Gmail.Token)
	}
	if want := filepath.Join("/srv", "desk", ".helpdesk"); stateDir(c) != want {
		t.Errorf("expected state dir %s, got %s", want, stateDir(c))
	}
}

func TestLockStateIsExclusive(t *testing.T) {
	c := &config.Config{File: filepath.Join(t.TempDir(), ".helpdesk", "config.yaml")}

	daemon, err := lockState(c)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	// A one-off process must not step conversations the daemon owns.
	if _, err := lockState(c); err == nil || !strings.Contains(err.Error(), "hd.lock") {
		t.Fatalf("expected the second lock to be refused, got %v", err)
	}
	if err := daemon.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	again, err := lockState(c)
	if err != nil {
		t.Fatalf("expected the lock after release, got %v", err)
	}
	again.Unlock()
}

func TestLookupTicket(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemoryStore()
	store = mem
	t.Cleanup(func() { store = nil })

	staged := &types.Ticket{ID: "TEMP-FIELDS-1", ThreadID: "t1", IsTemporary: true, Status: types.StatusStaged}
	final := &types.Ticket{ID: "TKT-1", ThreadID: "t2", Status: types.StatusOpen}
	for _, tk := range []*types.Ticket{staged, final} {
		if err := mem.Put(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)

	cases := map[string]string{
		"TKT-1": "TKT-1",
		"t2":    "TKT-1",
		"t1":    "TEMP-FIELDS-1",
	}
	for ref, want := range cases {
		got, err := lookupTicket(cmd, ref)
		if err != nil {
			t.Errorf("lookupTicket(%q): %v", ref, err)
			continue
		}
		if got.ID != want {
			t.Errorf("lookupTicket(%q): expected %s, got %s", ref, want, got.ID)
		}
	}
	if _, err := lookupTicket(cmd, "missing"); err == nil {
		t.Error("expected error for unknown ticket")
	}
}
