package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/config"
	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/logger"
	"github.com/newthinker/catalyst/internal/marketdata"
	"github.com/newthinker/catalyst/internal/marketdata/yahoo"
	"github.com/newthinker/catalyst/internal/metrics"
	"github.com/newthinker/catalyst/internal/notifier"
	"github.com/newthinker/catalyst/internal/notifier/webhook"
	"github.com/newthinker/catalyst/internal/router"
	"github.com/newthinker/catalyst/internal/storage/archive"
)

// runtime holds the components shared by every subcommand
type runtime struct {
	cfg       *config.Config
	log       *zap.Logger
	metrics   *metrics.Registry
	store     archive.Storage
	data      *marketdata.Adapter
	notifiers *notifier.Registry
	router    *router.Router
}

// loadConfig reads --config, or falls back to defaults
func loadConfig() (*config.Config, bool, error) {
	if cfgFile == "" {
		return config.Defaults(), false, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

// newRuntime validates cfg and builds the shared components
func newRuntime(cfg *config.Config, fromFile bool) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	log, err := logger.New(debug || cfg.Log.Development, level)
	if err != nil {
		return nil, err
	}
	if !fromFile {
		log.Warn("no config file specified, using defaults")
	}

	m := metrics.NewRegistry()
	store, err := archive.New(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	var provider marketdata.Provider = yahoo.New(cfg.Provider.Yahoo, log.Named("yahoo"), m)
	if cfg.Provider.Replay != "" {
		provider, err = marketdata.NewReplay(provider, store, marketdata.ReplayMode(cfg.Provider.Replay), log.Named("replay"))
		if err != nil {
			return nil, err
		}
	}

	data, err := marketdata.NewAdapter(provider, marketdata.Options{
		Timeout:   cfg.Provider.Timeout,
		CacheSize: cfg.Provider.CacheSize,
		Logger:    log.Named("marketdata"),
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}

	notifiers, err := newNotifiers(cfg.Notifiers)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		store:     store,
		data:      data,
		notifiers: notifiers,
		router:    router.New(cfg.Router, notifiers, log.Named("router"), m),
	}, nil
}

func newNotifiers(cfgs []notifier.Config) (*notifier.Registry, error) {
	reg := notifier.NewRegistry()
	for _, nc := range cfgs {
		var n notifier.Notifier
		switch nc.Type {
		case "webhook":
			n = webhook.New("", nil)
		default:
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown notifier type %q", nc.Type))
		}
		if err := n.Init(nc); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		if err := reg.Register(n); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
	}
	return reg, nil
}
