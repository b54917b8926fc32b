package meter

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/tokenmeter/tokenmeter/internal/usage"
)

// Counters are the diagnostic tallies exposed to the display layer. No
// steady-state error ever aborts the engine; it only shows up here.
type Counters struct {
	RecordsIngested int64 `json:"records_ingested"`
	RecordsDeduped  int64 `json:"records_deduped"`
	Malformed       int64 `json:"malformed"`
	UnknownModel    int64 `json:"unknown_model"`
	ReadErrors      int64 `json:"read_errors"`
	FilesTracked    int64 `json:"files_tracked"`
	BlocksEvicted   int64 `json:"blocks_evicted"`
}

// BlockView is an immutable copy of one block's totals.
type BlockView struct {
	Start     time.Time               `json:"start"`
	End       time.Time               `json:"end"`
	Active    bool                    `json:"active"`
	Grand     usage.Totals            `json:"grand"`
	ByProject map[string]usage.Totals `json:"by_project"`
	BySession map[string]usage.Totals `json:"by_session"`
	ByModel   map[string]usage.Totals `json:"by_model"`
}

// Snapshot is the frozen point-in-time view handed to consumers. The engine
// retains no reference to any map inside it.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`

	// ActiveBlock covers the window containing GeneratedAt; nil when no
	// record has mapped to it yet.
	ActiveBlock *BlockView `json:"active_block,omitempty"`

	// RecentBlocks are retained non-active blocks, ordered with the most
	// recent last.
	RecentBlocks []BlockView `json:"recent_blocks"`

	// BurnRate is tokens per minute over the trailing burn window.
	BurnRate float64 `json:"burn_rate"`

	// ProjectedBlockTotal linearly extrapolates the active block's grand
	// total to the block end. Nil while elapsed time in the block is below
	// the projection threshold.
	ProjectedBlockTotal *usage.Totals `json:"projected_block_total,omitempty"`

	// Expired accumulates records older than the retention horizon. They
	// are reported here instead of being silently dropped.
	Expired usage.Totals `json:"expired"`

	TokenLimit int64    `json:"token_limit,omitempty"`
	Counters   Counters `json:"counters"`
}

// ActiveGrandTotal is a convenience for consumers comparing against the
// token limit.
func (s Snapshot) ActiveGrandTotal() int64 {
	if s.ActiveBlock == nil {
		return 0
	}
	return s.ActiveBlock.Grand.Tokens.Total()
}

func viewOf(b *usage.Block, active bool) BlockView {
	return BlockView{
		Start:     b.Start,
		End:       b.End,
		Active:    active,
		Grand:     b.Grand,
		ByProject: copyTotals(b.ByProject),
		BySession: copyTotals(b.BySession),
		ByModel:   copyTotals(b.ByModel),
	}
}

func copyTotals(in map[string]*usage.Totals) map[string]usage.Totals {
	out := make(map[string]usage.Totals, len(in))
	for key, t := range in {
		out[key] = *t
	}
	return out
}

func sortedBlockStarts(blocks map[int64]*usage.Block) []int64 {
	starts := lo.Keys(blocks)
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}
