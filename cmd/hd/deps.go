package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/analyzer"
	"github.com/daviddao/helpdesk/internal/auth"
	"github.com/daviddao/helpdesk/internal/followup"
	"github.com/daviddao/helpdesk/internal/gmail"
	"github.com/daviddao/helpdesk/internal/intake"
	"github.com/daviddao/helpdesk/internal/rules"
	"github.com/daviddao/helpdesk/internal/workflow"
)

// app holds the components a mailbox-driven command needs.
type app struct {
	mail    *gmail.Mailbox
	self    string
	catalog *rules.Catalog
	ctl     *workflow.Controller
	intake  *intake.Intake
}

// newMailbox authenticates against Gmail and returns the mailbox with its
// own address.
func newMailbox(ctx context.Context) (*gmail.Mailbox, string, error) {
	svc, err := auth.GmailService(ctx, cfg.Gmail.Credentials, cfg.Gmail.Token, logger.Named("auth"))
	if err != nil {
		return nil, "", fmt.Errorf("gmail auth: %w", err)
	}
	mb := gmail.New(svc, "", logger.Named("gmail"))
	self, err := mb.Address(ctx)
	if err != nil {
		return nil, "", err
	}
	mb.SetFrom(self)
	return mb, self, nil
}

// newApp wires the workflow over the open store.
func newApp(ctx context.Context) (*app, error) {
	mb, self, err := newMailbox(ctx)
	if err != nil {
		return nil, err
	}

	catalog, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}

	var an analyzer.Analyzer
	if cfg.OpenAI.APIKey != "" {
		an = analyzer.NewOpenAI(analyzer.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, logger.Named("analyzer"))
	} else {
		logger.Warn("No OpenAI API key configured, using keyword analyzer")
		an = analyzer.NewKeyword(catalog)
	}

	var notifier followup.Notifier
	if cfg.Escalation.Supervisor != "" {
		notifier = followup.NewMailNotifier(mb, cfg.Escalation.Supervisor, logger.Named("notify"))
	}

	ctl := workflow.New(workflow.Deps{
		Store:    store,
		Mail:     mb,
		Analyzer: an,
		Catalog:  catalog,
		Notifier: notifier,
		Self:     self,
	}, workflow.OptionsFrom(cfg), logger.Named("workflow"))

	in := intake.New(mb, ctl, store, intake.Config{
		Query:          cfg.Gmail.Query,
		AllowedSenders: cfg.Intake.AllowedSenders,
		Self:           self,
	}, logger.Named("intake"))

	logger.Info("Helpdesk ready",
		zap.String("mailbox", self),
		zap.Int("rules", catalog.Len()),
		zap.String("rules_version", catalog.Version()))

	return &app{mail: mb, self: self, catalog: catalog, ctl: ctl, intake: in}, nil
}
