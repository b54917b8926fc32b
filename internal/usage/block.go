package usage

import "time"

// DefaultBlockDuration matches the 5-hour billing window used by the
// assistant's rolling quota.
const DefaultBlockDuration = 5 * time.Hour

// BlockStart floors a timestamp onto the block grid anchored at the Unix
// epoch (midnight UTC, 1970-01-01). Every instant maps to exactly one block;
// adjacent blocks share a boundary with no gap or overlap.
func BlockStart(ts time.Time, blockDuration time.Duration) time.Time {
	sec := int64(blockDuration / time.Second)
	if sec <= 0 {
		sec = int64(DefaultBlockDuration / time.Second)
	}
	u := ts.Unix()
	rem := ((u % sec) + sec) % sec
	return time.Unix(u-rem, 0).UTC()
}

// Block is one fixed-duration billing window with totals broken down by
// project, session and model.
type Block struct {
	Start time.Time
	End   time.Time

	ByProject map[string]*Totals
	BySession map[string]*Totals
	ByModel   map[string]*Totals
	Grand     Totals
}

func NewBlock(start time.Time, blockDuration time.Duration) *Block {
	return &Block{
		Start:     start,
		End:       start.Add(blockDuration),
		ByProject: make(map[string]*Totals),
		BySession: make(map[string]*Totals),
		ByModel:   make(map[string]*Totals),
	}
}

// Add accumulates one record into the block. The caller is responsible for
// deduplication and block assignment.
func (b *Block) Add(rec Record, costUSD float64) {
	b.Grand.Add(rec.Tokens, costUSD)
	b.bucket(b.ByProject, rec.ProjectID).Add(rec.Tokens, costUSD)
	b.bucket(b.BySession, rec.SessionID).Add(rec.Tokens, costUSD)
	b.bucket(b.ByModel, rec.Model).Add(rec.Tokens, costUSD)
}

func (b *Block) bucket(m map[string]*Totals, key string) *Totals {
	if key == "" {
		key = "unknown"
	}
	t, ok := m[key]
	if !ok {
		t = &Totals{}
		m[key] = t
	}
	return t
}

// Contains reports whether ts falls inside [Start, End).
func (b *Block) Contains(ts time.Time) bool {
	return !ts.Before(b.Start) && ts.Before(b.End)
}
