package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderintake/internal/config"
	"orderintake/internal/logging"
	"orderintake/internal/metrics"
	"orderintake/internal/pipeline"
	"orderintake/internal/storage"
)

// app holds what every subcommand needs, built once in PersistentPreRunE.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	reg     *pipeline.Registry
	engine  *pipeline.Engine
	metrics *metrics.Metrics
	db      *storage.DB
}

func main() {
	a := &app{}
	root := newRootCmd(a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	must(withTeardown(err, a.teardown))
}

// withTeardown releases resources after a failed command. The command error
// comes first; a teardown error is joined after it.
func withTeardown(err error, teardown func() error) error {
	if err == nil {
		return nil
	}
	return errors.Join(err, teardown())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "orderintake",
		Short:         "Ingest vendor order spreadsheets into unified order records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown()
		},
	}
	root.AddCommand(
		a.ingestCmd(),
		a.batchCmd(),
		a.inspectCmd(),
		a.formatsCmd(),
		a.runsCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.log, err = logging.New(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	if cfg.FormatsFile != "" {
		a.reg, err = pipeline.LoadRegistry(cfg.FormatsFile)
	} else {
		a.reg, err = pipeline.DefaultRegistry()
	}
	if err != nil {
		return err
	}

	a.engine = pipeline.NewEngine(a.reg, pipeline.Settings{
		HeaderScanRows: cfg.HeaderScanRows,
		SignatureRows:  cfg.SignatureRows,
		PriceTolerance: decimal.NewFromFloat(cfg.PriceTolerance),
	}, a.log)
	a.metrics = metrics.New()
	return nil
}

// openLedger opens the run ledger on first use; commands that never touch
// it do not create the database file.
func (a *app) openLedger() (*storage.DB, error) {
	if !a.cfg.LedgerEnabled {
		return nil, nil
	}
	if a.db != nil {
		return a.db, nil
	}
	db, err := storage.Open(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *app) service() (*pipeline.ProcessingService, error) {
	db, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	var ledger pipeline.RunLedger
	if db != nil {
		ledger = db
	}
	return pipeline.NewProcessingService(a.engine, a.cfg.OutputDir, ledger, a.metrics, a.log), nil
}

func (a *app) teardown() error {
	var firstErr error
	if a.metrics != nil && a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			firstErr = fmt.Errorf("write metrics: %w", err)
		}
		a.metrics = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.db = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return firstErr
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
