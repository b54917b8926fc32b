package meter

import (
	"log"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/pricing"
	"github.com/tokenmeter/tokenmeter/internal/usage"
)

// aggregator owns every mutable aggregate: blocks, dedup index, burn window,
// expired bucket and counters. It is confined to the single aggregation
// worker goroutine; nothing here is safe for concurrent use.
type aggregator struct {
	blockDuration time.Duration
	retention     time.Duration
	burn          *burnWindow
	minProjection time.Duration

	blocks  map[int64]*usage.Block
	dedup   *dedupIndex
	pricing pricing.Lookup
	expired usage.Totals

	counters   Counters
	tokenLimit int64

	now func() time.Time
}

func newAggregator(blockDuration, retention, burnWindowDur, minProjection time.Duration, lookup pricing.Lookup, tokenLimit int64) *aggregator {
	if blockDuration <= 0 {
		blockDuration = usage.DefaultBlockDuration
	}
	if retention < blockDuration {
		retention = 2 * blockDuration
	}
	if minProjection <= 0 {
		minProjection = time.Minute
	}
	if lookup == nil {
		lookup = pricing.Default()
	}
	return &aggregator{
		blockDuration: blockDuration,
		retention:     retention,
		burn:          newBurnWindow(burnWindowDur),
		minProjection: minProjection,
		blocks:        make(map[int64]*usage.Block),
		dedup:         newDedupIndex(),
		pricing:       lookup,
		tokenLimit:    tokenLimit,
		now:           time.Now,
	}
}

// apply folds one record into the aggregate state. It returns false when the
// record's dedup key was already counted. Records older than the retention
// horizon land in the expired bucket, never a tracked block.
func (a *aggregator) apply(rec usage.Record) bool {
	blockStart := usage.BlockStart(rec.Timestamp, a.blockDuration)
	startUnix := blockStart.Unix()
	key := rec.DedupKey()

	if a.dedup.Seen(startUnix, key) {
		a.counters.RecordsDeduped++
		return false
	}
	a.dedup.Mark(startUnix, key)

	rates, known := a.pricing.Rates(rec.Model)
	cost := 0.0
	if known {
		cost = pricing.Cost(rates, rec.Tokens)
	} else {
		a.counters.UnknownModel++
	}

	now := a.now().UTC()
	blockEnd := blockStart.Add(a.blockDuration)
	if blockEnd.Before(now.Add(-a.retention)) && !blockStart.Equal(usage.BlockStart(now, a.blockDuration)) {
		a.expired.Add(rec.Tokens, cost)
		a.counters.RecordsIngested++
		return true
	}

	blk, ok := a.blocks[startUnix]
	if !ok {
		blk = usage.NewBlock(blockStart, a.blockDuration)
		a.blocks[startUnix] = blk
	}
	blk.Add(rec, cost)
	a.burn.Add(rec.Timestamp, rec.Tokens.Total())
	a.counters.RecordsIngested++
	return true
}

// sweep evicts blocks whose end is strictly older than the retention horizon
// and which are not the active block, dropping their dedup partitions with
// them. Returns the block starts evicted so a journal can prune in step.
func (a *aggregator) sweep() []time.Time {
	now := a.now().UTC()
	horizon := now.Add(-a.retention)
	activeStart := usage.BlockStart(now, a.blockDuration).Unix()

	var evicted []time.Time
	for startUnix, blk := range a.blocks {
		if startUnix == activeStart || !blk.End.Before(horizon) {
			continue
		}
		delete(a.blocks, startUnix)
		a.dedup.EvictBlock(startUnix)
		evicted = append(evicted, blk.Start)
		a.counters.BlocksEvicted++
	}
	// Expired-bucket records mark keys under block starts that never had a
	// tracked block; reclaim those partitions once they pass the horizon too.
	for _, startUnix := range a.dedup.Partitions() {
		if startUnix == activeStart {
			continue
		}
		if _, live := a.blocks[startUnix]; live {
			continue
		}
		end := time.Unix(startUnix, 0).Add(a.blockDuration)
		if end.Before(horizon) {
			a.dedup.EvictBlock(startUnix)
		}
	}

	if len(evicted) > 0 {
		log.Printf("meter: evicted %d block(s) older than %s", len(evicted), a.retention)
	}
	return evicted
}

// materialize builds a frozen snapshot of the current state. Runs on the
// aggregation worker, so it never observes a block mid-update.
func (a *aggregator) materialize(filesTracked int64) Snapshot {
	now := a.now().UTC()
	activeStart := usage.BlockStart(now, a.blockDuration)
	activeUnix := activeStart.Unix()

	snap := Snapshot{
		GeneratedAt: now,
		BurnRate:    a.burn.Rate(now),
		Expired:     a.expired,
		TokenLimit:  a.tokenLimit,
		Counters:    a.counters,
	}
	snap.Counters.FilesTracked = filesTracked

	for _, startUnix := range sortedBlockStarts(a.blocks) {
		blk := a.blocks[startUnix]
		if startUnix == activeUnix {
			view := viewOf(blk, true)
			snap.ActiveBlock = &view
			continue
		}
		snap.RecentBlocks = append(snap.RecentBlocks, viewOf(blk, false))
	}

	if snap.ActiveBlock != nil {
		elapsed := now.Sub(activeStart)
		if elapsed >= a.minProjection {
			scale := float64(a.blockDuration) / float64(elapsed)
			grand := snap.ActiveBlock.Grand
			projected := usage.Totals{
				Tokens: usage.TokenCounts{
					Input:      int64(float64(grand.Tokens.Input) * scale),
					Output:     int64(float64(grand.Tokens.Output) * scale),
					CacheRead:  int64(float64(grand.Tokens.CacheRead) * scale),
					CacheWrite: int64(float64(grand.Tokens.CacheWrite) * scale),
				},
				CostUSD: grand.CostUSD * scale,
				Records: int64(float64(grand.Records) * scale),
			}
			snap.ProjectedBlockTotal = &projected
		}
	}

	return snap
}
