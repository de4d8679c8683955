package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/config"
	"github.com/daviddao/helpdesk/internal/scheduler"
)

// lockState takes hd.lock in the state directory. Only one process may
// drive conversations at a time: the daemon, or a one-off process or sync.
func lockState(cfg *config.Config) (*flock.Flock, error) {
	if err := os.MkdirAll(stateDir(cfg), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lockPath := filepath.Join(stateDir(cfg), "hd.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("another hd process holds %s (is 'hd run' running?)", lockPath)
	}
	return lock, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the helpdesk daemon",
	Long: `Poll the mailbox for new support threads and drive every open
conversation until it is ticketed, acknowledged or escalated.

Only one daemon may run per .helpdesk/ directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		lock, err := lockState(cfg)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		runner := scheduler.New(a.ctl, store, a.intake, scheduler.Config{
			Interval: cfg.Workflow.PollInterval,
			Workers:  cfg.Workflow.Workers,
		}, logger.Named("scheduler"))

		if !quietFlag {
			fmt.Printf("Watching %s every %s (Ctrl-C to stop)\n", a.self, cfg.Workflow.PollInterval)
		}
		if err := runner.Run(ctx); err != nil {
			return err
		}
		logger.Info("Daemon stopped", zap.Int("queued", runner.Queue().Len()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
