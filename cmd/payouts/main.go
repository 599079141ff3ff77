// Command payouts runs payout batches, the background job worker and schema
// migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zandy2test/gumroad-sub037/internal/app"
	"github.com/zandy2test/gumroad-sub037/internal/config"
	"github.com/zandy2test/gumroad-sub037/internal/modules/payouts"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "payouts",
		Short:         "Payout runs and background jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	build := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		return app.New(cmd.Context(), cfg, logger)
	}

	root.AddCommand(newRunCmd(build), newWorkerCmd(build), newMigrateCmd(build))
	return root
}

type builder func(cmd *cobra.Command) (*app.App, error)

func newRunCmd(build builder) *cobra.Command {
	var (
		processor string
		date      string
		payees    []string
		report    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create payments for every payable payee and schedule their batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payoutDate := time.Now().UTC()
			if date != "" {
				d, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				payoutDate = d
			}

			a, err := build(cmd)
			if err != nil {
				return err
			}
			res, err := a.Payouts.Run(cmd.Context(), payouts.RunInput{
				Processor:  processor,
				PayoutDate: payoutDate,
				PayeeIDs:   payees,
			})
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, res)
		},
	}
	cmd.Flags().StringVar(&processor, "processor", payouts.ProcessorPayPal, "payout processor")
	cmd.Flags().StringVar(&date, "date", "", "payout date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringSliceVar(&payees, "payee", nil, "limit the run to these payee ids")
	cmd.Flags().StringVar(&report, "report", "", "write the yaml report to this file instead of stdout")
	return cmd
}

func writeReport(stdout io.Writer, path string, res payouts.BatchReport) error {
	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return err
	}
	return enc.Close()
}

func newWorkerCmd(build builder) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run scheduled jobs: payout batches, pending rechecks and SCA timeouts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(cmd)
			if err != nil {
				return err
			}
			if once {
				n, err := a.Worker.RunDue(cmd.Context(), time.Now())
				a.Logger.Info("due jobs processed", "count", n)
				return err
			}
			a.Logger.Info("worker started", "poll_interval", a.Config.Jobs.PollInterval)
			if err := a.Worker.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process due jobs and exit")
	return cmd
}

func newMigrateCmd(build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(cmd)
			if err != nil {
				return err
			}
			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			tables := make([]string, 0, len(app.Models()))
			for _, m := range app.Models() {
				tables = append(tables, fmt.Sprintf("%T", m))
			}
			a.Logger.Info("schema up to date", "models", strings.Join(tables, ","))
			return nil
		},
	}
}
