package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/config"
	"github.com/daviddao/helpdesk/internal/db"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	configPath string
	debugFlag  bool
	memoryFlag bool
	jsonOutput bool
	quietFlag  bool

	cfg    *config.Config
	logger *zap.Logger
	store  db.Store
)

var rootCmd = &cobra.Command{
	Use:   "hd",
	Short: "hd - email helpdesk that turns support threads into tickets",
	Long: `hd watches a support mailbox, classifies each new thread, asks the
requester for what is missing and files one ticket per thread.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "init", "help", "version", "quickstart", "mail", "tickets":
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		resolvePaths(cfg)

		if debugFlag || cfg.Log.Development {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}

		// Catalog and mailbox inspection don't need the store.
		if cmd.Name() == "rules" || (cmd.Parent() != nil && cmd.Parent().Name() == "mail") {
			return nil
		}
		store, err = openStore(cfg)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// openStore opens the configured ticket store.
func openStore(cfg *config.Config) (db.Store, error) {
	if memoryFlag {
		return db.NewMemoryStore(), nil
	}
	switch cfg.Database.Driver {
	case db.DriverPostgres:
		s, err := db.OpenPostgres(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return s, nil
	default:
		s, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return s, nil
	}
}

// resolvePaths makes relative file settings relative to the directory that
// holds .helpdesk/, so hd behaves the same from any subdirectory.
func resolvePaths(cfg *config.Config) {
	if cfg.File == "" {
		return
	}
	base := filepath.Dir(filepath.Dir(cfg.File))
	for _, p := range []*string{&cfg.Database.Path, &cfg.Rules.Path, &cfg.Gmail.Credentials, &cfg.Gmail.Token} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// stateDir is where the lock file lives.
func stateDir(cfg *config.Config) string {
	if cfg.File != "" {
		return filepath.Dir(cfg.File)
	}
	return filepath.Dir(cfg.Database.Path)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hd version %s\n", Version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .helpdesk/ with a config file and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("working directory: %w", err)
			}
			root = wd
		}

		dir := filepath.Join(root, ".helpdesk")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		cfgFile := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			if err := os.WriteFile(cfgFile, []byte(config.Default), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
		}

		dbPath := filepath.Join(dir, "helpdesk.db")
		s, err := db.Open(dbPath)
		if err != nil {
			return err
		}
		s.Close()

		ensureGitignore(root)

		if !quietFlag {
			fmt.Printf("Initialized helpdesk at %s\n", dir)
		}
		return nil
	},
}

// ensureGitignore adds .helpdesk/ to .gitignore if not already present.
func ensureGitignore(root string) {
	gitignorePath := filepath.Join(root, ".gitignore")
	entry := ".helpdesk/"

	data, err := os.ReadFile(gitignorePath)
	if err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == entry || line == ".helpdesk" {
				return
			}
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(data) > 0 && data[len(data)-1] != '\n' {
		f.WriteString("\n")
	}
	fmt.Fprintf(f, "\n# Helpdesk state (tickets, conversations, tokens)\n%s\n", entry)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: auto-discover .helpdesk/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Development logging")
	rootCmd.PersistentFlags().BoolVar(&memoryFlag, "memory", false, "Use an in-memory store instead of the configured database")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
