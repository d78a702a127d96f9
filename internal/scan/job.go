package scan

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/metrics"
	"github.com/newthinker/catalyst/internal/notifier"
	"github.com/newthinker/catalyst/internal/router"
	"github.com/newthinker/catalyst/internal/storage/archive"
)

// Job is one scheduled scan: snapshot the universe, export it, alert
type Job struct {
	Scanner   *Scanner
	Tickers   []string
	Rule      Rule
	Store     archive.Storage // optional
	Key       string          // export key inside Store
	Router    *router.Router  // optional
	Logger    *zap.Logger
	Metrics   *metrics.Registry
}

// JobResult summarizes one Run
type JobResult struct {
	Snapshots []Snapshot
	Alerts    []Snapshot
	Sent      int // alerts delivered after cooldown filtering
	Failed    int // snapshots with Err set
}

// Run executes the job once. Export and delivery failures are logged and
// returned after every step has been attempted.
func (j *Job) Run(ctx context.Context) (*JobResult, error) {
	logger := j.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	snapshots, err := j.Scanner.Scan(ctx, j.Tickers)
	if err != nil {
		j.Metrics.RecordScan("cancelled")
		return nil, err
	}

	res := &JobResult{Snapshots: snapshots, Alerts: Alerts(snapshots, j.Rule)}
	for _, s := range snapshots {
		if s.Err != "" {
			res.Failed++
		}
	}

	var errs []error
	if j.Store != nil {
		if err := j.export(ctx, snapshots); err != nil {
			logger.Error("scan export failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if j.Router != nil && len(res.Alerts) > 0 {
		sent, failed := j.notify(ctx, res.Alerts)
		res.Sent = sent
		errs = append(errs, failed...)
	}

	status := "success"
	if len(errs) > 0 {
		status = "error"
	}
	j.Metrics.RecordScan(status)
	logger.Info("scan finished",
		zap.Int("tickers", len(j.Tickers)),
		zap.Int("failed", res.Failed),
		zap.Int("alerts", len(res.Alerts)),
		zap.Int("sent", res.Sent),
		zap.Duration("elapsed", time.Since(start)),
	)

	if len(errs) > 0 {
		return res, fmt.Errorf("scan completed with %d delivery errors: %w", len(errs), errs[0])
	}
	return res, nil
}

func (j *Job) export(ctx context.Context, snapshots []Snapshot) error {
	var buf bytes.Buffer
	if err := Export(&buf, snapshots); err != nil {
		return err
	}
	key := j.Key
	if key == "" {
		key = "scan/latest.csv"
	}
	if err := j.Store.Put(ctx, key, buf.Bytes()); err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("writing %s: %w", key, err))
	}
	return nil
}

func (j *Job) notify(ctx context.Context, alerts []Snapshot) (int, []error) {
	msgs := make([]notifier.Message, len(alerts))
	for i, a := range alerts {
		msgs[i] = FormatAlert(a)
	}

	sent, failed := j.Router.RouteBatch(ctx, msgs)
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, failed[name])
	}
	return len(sent), errs
}
