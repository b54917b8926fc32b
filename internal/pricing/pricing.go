package pricing

import (
	"strings"

	"github.com/tokenmeter/tokenmeter/internal/usage"
)

// Rates holds per-million-token prices for one model family.
type Rates struct {
	InputPerMillion      float64
	OutputPerMillion     float64
	CacheReadPerMillion  float64
	CacheWritePerMillion float64
}

// Lookup resolves a model identifier to its rates. Implementations must be
// pure: the aggregator queries them on every record.
type Lookup interface {
	Rates(model string) (Rates, bool)
}

// Cost prices a token count tuple against the given rates.
func Cost(r Rates, tc usage.TokenCounts) float64 {
	cost := float64(tc.Input) * r.InputPerMillion / 1_000_000
	cost += float64(tc.Output) * r.OutputPerMillion / 1_000_000
	cost += float64(tc.CacheRead) * r.CacheReadPerMillion / 1_000_000
	cost += float64(tc.CacheWrite) * r.CacheWritePerMillion / 1_000_000
	return cost
}

// StaticTable matches model identifiers by family substring. Costs are
// API-equivalent estimates, not subscription charges.
type StaticTable struct {
	families []string
	rates    map[string]Rates
}

func Default() *StaticTable {
	return &StaticTable{
		// Order matters: "claude-opus" must not fall through to sonnet.
		families: []string{"opus", "haiku", "sonnet"},
		rates: map[string]Rates{
			"opus": {
				InputPerMillion:      15.0,
				OutputPerMillion:     75.0,
				CacheReadPerMillion:  1.50,
				CacheWritePerMillion: 18.75,
			},
			"sonnet": {
				InputPerMillion:      3.0,
				OutputPerMillion:     15.0,
				CacheReadPerMillion:  0.30,
				CacheWritePerMillion: 3.75,
			},
			"haiku": {
				InputPerMillion:      0.80,
				OutputPerMillion:     4.0,
				CacheReadPerMillion:  0.08,
				CacheWritePerMillion: 1.0,
			},
		},
	}
}

func (t *StaticTable) Rates(model string) (Rates, bool) {
	lower := strings.ToLower(model)
	for _, family := range t.families {
		if strings.Contains(lower, family) {
			return t.rates[family], true
		}
	}
	return Rates{}, false
}
