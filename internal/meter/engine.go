package meter

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tokenmeter/tokenmeter/internal/journal"
	"github.com/tokenmeter/tokenmeter/internal/parse"
	"github.com/tokenmeter/tokenmeter/internal/pricing"
	"github.com/tokenmeter/tokenmeter/internal/tail"
	"github.com/tokenmeter/tokenmeter/internal/usage"
)

// ErrStopped is returned by Publish once the engine has shut down.
var ErrStopped = errors.New("meter: engine stopped")

const (
	defaultQueueSize     = 256
	defaultSweepInterval = time.Minute
	defaultRetention     = 48 * time.Hour
)

type Config struct {
	// Roots are the directory trees holding session logs. At least one
	// must exist or New fails; this is the only fatal condition.
	Roots []string

	FilePattern  string
	PollInterval time.Duration
	MaxReadBytes int64

	BlockDuration        time.Duration
	Retention            time.Duration
	BurnRateWindow       time.Duration
	MinProjectionElapsed time.Duration
	SweepInterval        time.Duration

	// QueueSize bounds the aggregation queue. Producers block when it is
	// full (backpressure); records are never dropped.
	QueueSize int

	ProjectPrefixes []string
	TokenLimit      int64
	Pricing         pricing.Lookup

	// Journal is optional. When set, counted records are persisted within
	// the retention window and replayed on the next start.
	Journal *journal.Store
}

// batch is one file read's worth of parsed records plus its rejection count,
// handed from a producer to the aggregation worker.
type batch struct {
	records   []usage.Record
	malformed int64
}

type snapshotReq struct {
	reply chan Snapshot
}

// Engine wires the tailer, parser, deduplicator and aggregator together.
// All aggregate mutation happens on one worker goroutine fed by a bounded
// queue; consumers only ever see frozen snapshots.
type Engine struct {
	cfg    Config
	agg    *aggregator
	tailer *tail.Tailer

	queue    chan batch
	snapReqs chan snapshotReq
	readErrs atomic.Int64

	runCtx  context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(cfg Config) (*Engine, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if len(cfg.ProjectPrefixes) == 0 {
		cfg.ProjectPrefixes = []string{"-Users-", "-home-"}
	}

	e := &Engine{
		cfg:      cfg,
		agg:      newAggregator(cfg.BlockDuration, cfg.Retention, cfg.BurnRateWindow, cfg.MinProjectionElapsed, cfg.Pricing, cfg.TokenLimit),
		queue:    make(chan batch, cfg.QueueSize),
		snapReqs: make(chan snapshotReq),
		stopped:  make(chan struct{}),
	}

	tailer, err := tail.New(cfg.Roots, e.handleLines,
		tail.WithPattern(cfg.FilePattern),
		tail.WithPollInterval(cfg.PollInterval),
		tail.WithMaxReadBytes(cfg.MaxReadBytes),
		tail.WithErrorHook(func(string, error) { e.readErrs.Add(1) }),
	)
	if err != nil {
		return nil, err
	}
	e.tailer = tailer
	return e, nil
}

// Start replays the journal, then launches the tailer and the aggregation
// worker. It returns immediately; use Publish or Subscribe to observe state.
func (e *Engine) Start(ctx context.Context) error {
	e.startOnce.Do(func() {
		if e.cfg.Journal != nil {
			if err := e.replayJournal(ctx); err != nil {
				log.Printf("meter: journal replay: %v (continuing with full rescan)", err)
			}
		}

		e.runCtx, e.cancel = context.WithCancel(ctx)
		e.group, _ = errgroup.WithContext(e.runCtx)

		e.group.Go(func() error { return e.aggregationLoop(e.runCtx) })
		e.group.Go(func() error {
			err := e.tailer.Run(e.runCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	})
	return nil
}

// Stop cancels the pipeline, drains in-flight batches and waits for both
// workers to exit. Safe to call more than once.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
			err = e.group.Wait()
			// Both goroutines have exited, so nothing races the queue or
			// the aggregate state anymore; count whatever was accepted.
			e.drainQueue()
		}
		close(e.stopped)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}

// Publish returns a frozen snapshot, built on the aggregation worker so it
// never observes a block mid-update.
func (e *Engine) Publish(ctx context.Context) (Snapshot, error) {
	req := snapshotReq{reply: make(chan Snapshot, 1)}
	select {
	case e.snapReqs <- req:
	case <-e.stopped:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-e.stopped:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Subscribe delivers snapshots at the given cadence until the context is
// cancelled or the engine stops, then closes the channel. A slow receiver
// misses intermediate snapshots rather than delaying the engine.
func (e *Engine) Subscribe(ctx context.Context, interval time.Duration) <-chan Snapshot {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopped:
				return
			case <-ticker.C:
				snap, err := e.Publish(ctx)
				if err != nil {
					return
				}
				select {
				case out <- snap:
				default:
					// Receiver still holds the previous snapshot.
				}
			}
		}
	}()
	return out
}

// handleLines runs on the tailer goroutine: parse, then hand the batch to
// the aggregation worker. A full queue blocks here, which in turn slows the
// tailer (the documented backpressure policy).
func (e *Engine) handleLines(path string, lines []tail.RawLine) {
	src := e.sourceFor(path)

	var b batch
	for _, line := range lines {
		src.Offset = line.Offset
		rec, err := parse.Line(line.Data, src)
		switch {
		case err == nil:
			b.records = append(b.records, rec)
		case errors.Is(err, parse.ErrNotUsage):
			// Recognized non-usage line.
		default:
			b.malformed++
			log.Printf("meter: %s:%d: %v", path, line.Offset, err)
		}
	}
	if len(b.records) == 0 && b.malformed == 0 {
		return
	}

	select {
	case e.queue <- b:
	case <-e.runCtx.Done():
	}
}

func (e *Engine) sourceFor(path string) parse.Source {
	base := filepath.Base(path)
	return parse.Source{
		File:    path,
		Project: usage.NormalizeProject(filepath.Base(filepath.Dir(path)), e.cfg.ProjectPrefixes),
		Session: strings.TrimSuffix(base, filepath.Ext(base)),
	}
}

func (e *Engine) aggregationLoop(ctx context.Context) error {
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case b := <-e.queue:
			e.applyBatch(ctx, b)
		case <-sweep.C:
			e.runSweep(ctx)
		case req := <-e.snapReqs:
			req.reply <- e.buildSnapshot()
		case <-ctx.Done():
			return nil
		}
	}
}

// drainQueue empties whatever producers managed to enqueue before
// cancellation, so Stop never loses accepted records. Runs on the Stop
// caller after the tailer and the worker have both exited.
func (e *Engine) drainQueue() {
	for {
		select {
		case b := <-e.queue:
			e.applyBatch(context.Background(), b)
		default:
			return
		}
	}
}

func (e *Engine) applyBatch(ctx context.Context, b batch) {
	e.agg.counters.Malformed += b.malformed
	for _, rec := range b.records {
		if !e.agg.apply(rec) {
			continue
		}
		if e.cfg.Journal != nil {
			if err := e.cfg.Journal.Append(ctx, rec); err != nil {
				log.Printf("meter: journal append: %v", err)
			}
		}
	}
}

func (e *Engine) runSweep(ctx context.Context) {
	e.agg.sweep()
	if e.cfg.Journal != nil {
		cutoff := e.agg.now().UTC().Add(-e.cfg.Retention)
		if _, err := e.cfg.Journal.Prune(ctx, cutoff); err != nil {
			log.Printf("meter: journal prune: %v", err)
		}
	}
}

func (e *Engine) buildSnapshot() Snapshot {
	snap := e.agg.materialize(e.tailer.Tracked())
	snap.Counters.ReadErrors = e.readErrs.Load()
	return snap
}

func (e *Engine) replayJournal(ctx context.Context) error {
	count := 0
	err := e.cfg.Journal.Replay(ctx, func(rec usage.Record) error {
		if e.agg.apply(rec) {
			count++
		}
		return nil
	})
	if count > 0 {
		log.Printf("meter: replayed %d journaled record(s)", count)
	}
	return err
}
