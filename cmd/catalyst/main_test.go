package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/notifier"
	"github.com/newthinker/catalyst/internal/report"
	"github.com/newthinker/catalyst/internal/strategy"
)

func TestRootCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"backtest", "scan", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(buf.String(), "Catalyst dev"))
}

func TestNewNotifiers(t *testing.T) {
	reg, err := newNotifiers([]notifier.Config{
		{Type: "webhook", Params: map[string]any{"url": "https://example.com/a", "name": "ops"}},
		{Type: "webhook", Params: map[string]any{"url": "https://example.com/b", "name": "desk", "format": "discord"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	_, err = newNotifiers([]notifier.Config{{Type: "pager"}})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	_, err = newNotifiers([]notifier.Config{{Type: "webhook"}})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid), "url is required")

	dup := notifier.Config{Type: "webhook", Params: map[string]any{"url": "https://example.com/a"}}
	_, err = newNotifiers([]notifier.Config{dup, dup})
	assert.Error(t, err)
}

func TestSummaryMessage(t *testing.T) {
	info := &report.RunInfo{ID: "0123456789abcdef", Trades: 3, Skipped: 1}
	summaries := []report.StrategySummary{
		{Strategy: strategy.LongStraddle, Count: 2, Mean: 0.015, WinRate: 0.5},
		{Strategy: strategy.NotAvailable, Count: 1, Mean: indicator.NA, WinRate: indicator.NA},
	}

	msg := summaryMessage(info, summaries)
	assert.Equal(t, "summary", msg.Kind)
	assert.Empty(t, msg.Key)
	assert.Equal(t, "📊 Backtest 01234567: 3 trades, 1 skipped\n"+
		"Long Straddle: n=2 mean=1.50% win=50.00%\n"+
		"N/A: n=1 mean=N/A win=N/A", msg.Text)

	rows := msg.Fields["strategies"].([]map[string]any)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1]["mean"])
}
