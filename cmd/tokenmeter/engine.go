package main

import (
	"fmt"

	"github.com/tokenmeter/tokenmeter/internal/config"
	"github.com/tokenmeter/tokenmeter/internal/journal"
	"github.com/tokenmeter/tokenmeter/internal/meter"
	"github.com/tokenmeter/tokenmeter/internal/pricing"
)

// newEngine builds a fully wired engine from the resolved configuration.
// The returned cleanup closes the journal; call it after Engine.Stop.
func newEngine(cfgFile string) (*meter.Engine, *config.Config, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}

	roots := cfg.Roots()
	if len(roots) == 0 {
		return nil, nil, nil, fmt.Errorf("no session log directories found; set projects_dirs or CLAUDE_CONFIG_DIR")
	}

	var store *journal.Store
	cleanup := func() {}
	if cfg.Cache.Enabled {
		store, err = journal.Open(cfg.Cache.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup = func() { _ = store.Close() }
	}

	eng, err := meter.New(meter.Config{
		Roots:                roots,
		FilePattern:          cfg.FilePattern,
		PollInterval:         cfg.PollInterval,
		MaxReadBytes:         cfg.MaxReadBytes,
		BlockDuration:        cfg.BlockDuration,
		Retention:            cfg.Retention,
		BurnRateWindow:       cfg.BurnRateWindow,
		MinProjectionElapsed: cfg.MinProjectionElapsed,
		QueueSize:            cfg.QueueSize,
		ProjectPrefixes:      cfg.ProjectNamePrefixes,
		TokenLimit:           cfg.TokenLimit,
		Pricing:              pricing.Default(),
		Journal:              store,
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return eng, cfg, cleanup, nil
}
