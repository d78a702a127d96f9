package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/scan"
)

var (
	scanTickers     []string
	scanWatch       bool
	scanSchedule    string
	scanMetricsAddr string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Snapshot today's volatility setups and alert on upcoming earnings",
	Long: `Compute ATR%, IV rank and the front-month ATM strike for each ticker,
export the snapshot to the archive and send alerts for setups with earnings
inside the alert window. With --watch the scan repeats on a cron schedule.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanTickers, "tickers", nil, "Tickers to scan (overrides config)")
	scanCmd.Flags().BoolVar(&scanWatch, "watch", false, "Keep running and scan on the schedule")
	scanCmd.Flags().StringVar(&scanSchedule, "schedule", "", "Cron spec with seconds field (overrides config)")
	scanCmd.Flags().StringVar(&scanMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, fromFile, err := loadConfig()
	if err != nil {
		return err
	}
	if len(scanTickers) > 0 {
		cfg.Tickers = scanTickers
	}
	if scanSchedule != "" {
		cfg.Scan.Schedule = scanSchedule
	}
	if scanMetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = scanMetricsAddr
	}
	for i, t := range cfg.Tickers {
		cfg.Tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}

	rt, err := newRuntime(cfg, fromFile)
	if err != nil {
		return err
	}
	log := rt.log
	defer log.Sync()

	scanner, err := scan.NewScanner(rt.data, cfg.Scan.Config, log.Named("scan"))
	if err != nil {
		return err
	}
	job := &scan.Job{
		Scanner: scanner,
		Tickers: cfg.Tickers,
		Rule:    cfg.Scan.Alert,
		Store:   rt.store,
		Key:     cfg.Scan.ExportKey,
		Router:  rt.router,
		Logger:  log.Named("scan"),
		Metrics: rt.metrics,
	}
	rt.metrics.SetUniverseSize(len(cfg.Tickers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := rt.metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, log); err != nil {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	if !scanWatch {
		res, err := job.Run(ctx)
		if res != nil {
			scan.RenderSnapshots(cmd.OutOrStdout(), res.Snapshots)
			fmt.Fprintf(cmd.OutOrStdout(), "%d alerts sent\n", len(res.Alerts))
		}
		return err
	}

	c := cron.New(cron.WithSeconds())
	_, err = c.AddFunc(cfg.Scan.Schedule, func() {
		if _, err := job.Run(ctx); err != nil {
			log.Error("scheduled scan failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Scan.Schedule, err)
	}

	log.Info("scan scheduler started",
		zap.String("schedule", cfg.Scan.Schedule),
		zap.Int("tickers", len(cfg.Tickers)),
	)
	rt.router.StartCleanupRoutine(ctx, time.Hour)
	c.Start()
	<-ctx.Done()

	log.Info("shutting down scan scheduler")
	<-c.Stop().Done()
	return nil
}
