package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/backtest"
	"github.com/newthinker/catalyst/internal/events"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/notifier"
	"github.com/newthinker/catalyst/internal/report"
)

var (
	backtestTickers     []string
	backtestFrom        string
	backtestTo          string
	backtestOut         string
	backtestReplay      string
	backtestMetricsAddr string
	backtestNotify      bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Backtest earnings setups over a ticker universe",
	Long: `Replay past earnings events for each ticker, classify the setup from ATR%
and IV rank at entry, and report per-strategy P/L. Exports go to the archive.`,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringSliceVar(&backtestTickers, "tickers", nil, "Tickers to backtest (overrides config)")
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "Earliest event date YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "Latest event date YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&backtestOut, "out", "", "Archive prefix for the report (overrides config)")
	backtestCmd.Flags().StringVar(&backtestReplay, "replay", "", "Provider replay mode: auto, record or replay")
	backtestCmd.Flags().StringVar(&backtestMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	backtestCmd.Flags().BoolVar(&backtestNotify, "notify", false, "Send the strategy summary to configured notifiers")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, fromFile, err := loadConfig()
	if err != nil {
		return err
	}
	if len(backtestTickers) > 0 {
		cfg.Tickers = backtestTickers
	}
	if backtestFrom != "" {
		cfg.From = backtestFrom
	}
	if backtestTo != "" {
		cfg.To = backtestTo
	}
	if backtestOut != "" {
		cfg.Report.Prefix = backtestOut
	}
	if backtestReplay != "" {
		cfg.Provider.Replay = backtestReplay
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if backtestMetricsAddr != "" {
		go func() {
			if err := rt.metrics.Serve(ctx, backtestMetricsAddr, cfg.Metrics.Path, log); err != nil {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	from, to, err := cfg.Range()
	if err != nil {
		return err
	}
	calendar, err := cfg.Calendar()
	if err != nil {
		return err
	}
	extractor := events.NewExtractor(rt.data, events.Config{
		Limit:    cfg.Events.Limit,
		From:     from,
		To:       to,
		Calendar: calendar,
	}, log.Named("events"))

	bt, err := backtest.New(rt.data, extractor, cfg.Backtest, log.Named("backtest"), rt.metrics)
	if err != nil {
		return err
	}

	log.Info("starting backtest",
		zap.Strings("tickers", cfg.Tickers),
		zap.String("from", cfg.From),
		zap.String("to", cfg.To),
	)
	result, err := bt.Run(ctx, cfg.Tickers)
	if err != nil {
		return fmt.Errorf("backtest aborted: %w", err)
	}

	out := cmd.OutOrStdout()
	summaries := report.Summarize(result.Trades)
	fmt.Fprintln(out, "=== Catalyst Backtest ===")
	fmt.Fprintf(out, "Tickers:  %s\n", strings.Join(result.Tickers, ", "))
	fmt.Fprintf(out, "Trades:   %d (%d events skipped)\n", len(result.Trades), result.TotalSkips())
	fmt.Fprintf(out, "Return:   %.2f%%  Max DD: %.2f%%  Sharpe/trade: %.2f\n",
		result.Stats.TotalReturn, result.Stats.MaxDrawdown, result.Stats.SharpeRatio)
	fmt.Fprintln(out)
	report.RenderSummary(out, summaries, result.SkipCounts)

	info, err := report.NewWriter(rt.store, cfg.Report.Prefix, log.Named("report")).Write(ctx, result)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	fmt.Fprintf(out, "\nReport %s written under %q\n", info.ID, cfg.Report.Prefix)

	if backtestNotify && rt.notifiers.Len() > 0 {
		if _, errs := rt.router.Route(ctx, summaryMessage(info, summaries)); len(errs) > 0 {
			log.Warn("summary not delivered everywhere", zap.Int("failed", len(errs)))
		}
	}
	return nil
}

func summaryMessage(info *report.RunInfo, summaries []report.StrategySummary) notifier.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Backtest %s: %d trades, %d skipped\n", info.ID[:8], info.Trades, info.Skipped)
	rows := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		fmt.Fprintf(&b, "%s: n=%d mean=%s win=%s\n", s.Strategy, s.Count, pctOrNA(s.Mean), pctOrNA(s.WinRate))
		rows = append(rows, map[string]any{
			"strategy": string(s.Strategy),
			"count":    s.Count,
			"mean":     jsonFloat(s.Mean),
			"win_rate": jsonFloat(s.WinRate),
		})
	}
	return notifier.Message{
		Kind:   "summary",
		Title:  "Backtest summary",
		Text:   strings.TrimRight(b.String(), "\n"),
		Fields: map[string]any{"run_id": info.ID, "strategies": rows},
		SentAt: time.Now(),
	}
}

func pctOrNA(v float64) string {
	if indicator.IsNA(v) {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func jsonFloat(v float64) any {
	if indicator.IsNA(v) {
		return nil
	}
	return v
}
