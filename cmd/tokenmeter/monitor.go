package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/meter"
	"github.com/tokenmeter/tokenmeter/internal/usage"
)

// runMonitor streams periodic snapshots to stdout until interrupted.
func runMonitor(ctx context.Context, cfgFile string) error {
	eng, cfg, cleanup, err := newEngine(cfgFile)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = eng.Stop() }()

	loc := time.UTC
	if cfg.Timezone != "" && cfg.Timezone != "UTC" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}

	for snap := range eng.Subscribe(ctx, cfg.RefreshInterval) {
		printSnapshot(snap, loc)
	}
	return nil
}

func printSnapshot(s meter.Snapshot, loc *time.Location) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", s.GeneratedAt.In(loc).Format("15:04:05"))

	if s.ActiveBlock == nil {
		b.WriteString("no activity in current block")
	} else {
		blk := s.ActiveBlock
		fmt.Fprintf(&b, "block %s-%s  %s tokens  $%.2f",
			blk.Start.In(loc).Format("15:04"),
			blk.End.In(loc).Format("15:04"),
			formatTokens(blk.Grand.Tokens.Total()),
			blk.Grand.CostUSD)
		if s.TokenLimit > 0 {
			fmt.Fprintf(&b, "  (%.0f%% of limit)",
				100*float64(blk.Grand.Tokens.Total())/float64(s.TokenLimit))
		}
	}

	if s.BurnRate > 0 {
		fmt.Fprintf(&b, "  burn %s tok/min", formatTokens(int64(s.BurnRate)))
	}
	if s.ProjectedBlockTotal != nil {
		fmt.Fprintf(&b, "  projected %s tokens", formatTokens(s.ProjectedBlockTotal.Tokens.Total()))
	}

	fmt.Println(b.String())

	if s.ActiveBlock != nil {
		for _, line := range projectLines(s.ActiveBlock.ByProject, loc) {
			fmt.Println("  " + line)
		}
	}
}

func projectLines(byProject map[string]usage.Totals, _ *time.Location) []string {
	names := make([]string, 0, len(byProject))
	for name := range byProject {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return byProject[names[i]].Tokens.Total() > byProject[names[j]].Tokens.Total()
	})

	lines := make([]string, 0, len(names))
	for _, name := range names {
		t := byProject[name]
		lines = append(lines, fmt.Sprintf("%-30s %10s tokens  $%.2f", name, formatTokens(t.Tokens.Total()), t.CostUSD))
	}
	return lines
}

func formatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
