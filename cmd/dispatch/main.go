// Command dispatch runs one email outbox batch and prints the report as JSON.
// It is meant for cron jobs that prefer a process over the HTTP trigger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/registration-service/internal/bootstrap"
	"github.com/spec-kit/registration-service/internal/config"
	"github.com/spec-kit/registration-service/internal/dispatch"
	"github.com/spec-kit/registration-service/internal/observability"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		dryRun  bool
		mode    string
		capMax  int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send pending registration emails",
		Long: `Run one dispatch batch over the email outbox.

Mode, cap, throttle, retry and allowlist settings come from the EMAIL_*
environment variables; flags override them for this run only.

Examples:
  dispatch                  # use EMAIL_MODE
  dispatch --dry-run        # count what would be sent
  dispatch --mode CAPPED --cap 10
`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("mode") {
				cfg.Email.Mode = strings.ToUpper(mode)
			}
			if cmd.Flags().Changed("cap") {
				cfg.Email.CapMaxPerRun = capMax
			}
			if dryRun {
				cfg.Email.Mode = string(dispatch.ModeDryRun)
			}
			return run(cmd, cfg, timeout)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Count eligible emails without sending or mutating the outbox")
	cmd.Flags().StringVar(&mode, "mode", "", "Dispatch mode: DRY_RUN, FULL or CAPPED")
	cmd.Flags().IntVar(&capMax, "cap", 0, "Maximum emails sent per run (FULL and CAPPED)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Upper bound for the run")

	return cmd
}

func run(cmd *cobra.Command, cfg *config.Config, timeout time.Duration) error {
	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatchCfg := dispatch.ConfigFrom(cfg.Email, cfg.Dispatch)
	if err := dispatchCfg.Validate(); err != nil {
		return err
	}

	storage, err := bootstrap.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close()
	if !storage.Durable {
		logger.Warn("no POSTGRES_DSN configured; the in-process outbox is empty")
	}

	dispatcher := bootstrap.NewDispatcher(storage, cfg, nil, logger)
	report, err := dispatcher.Run(ctx, dispatchCfg)
	if err != nil {
		logger.Error("dispatch run failed", zap.Error(err))
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
