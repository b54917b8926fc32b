package usage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TokenCounts carries the four token categories reported per assistant turn.
type TokenCounts struct {
	Input      int64 `json:"input_tokens"`
	Output     int64 `json:"output_tokens"`
	CacheRead  int64 `json:"cache_read_tokens"`
	CacheWrite int64 `json:"cache_write_tokens"`
}

func (t TokenCounts) Total() int64 {
	return t.Input + t.Output + t.CacheRead + t.CacheWrite
}

func (t *TokenCounts) Add(o TokenCounts) {
	t.Input += o.Input
	t.Output += o.Output
	t.CacheRead += o.CacheRead
	t.CacheWrite += o.CacheWrite
}

// Totals accumulates token counts, estimated cost and record count for one
// aggregation bucket (project, session, model or grand total).
type Totals struct {
	Tokens  TokenCounts `json:"tokens"`
	CostUSD float64     `json:"cost_usd"`
	Records int64       `json:"records"`
}

func (t *Totals) Add(tokens TokenCounts, costUSD float64) {
	t.Tokens.Add(tokens)
	t.CostUSD += costUSD
	t.Records++
}

// Record is one parsed usage entry from a session log line.
type Record struct {
	Timestamp time.Time
	SessionID string
	ProjectID string
	Model     string
	Tokens    TokenCounts
	MessageID string
	RequestID string

	// Provenance, internal only.
	SourceFile   string
	SourceOffset int64
}

// DedupKey returns the stable identity of the billable event. A message or
// request ID dominates when present; otherwise the key falls back to a
// fingerprint of the immutable fields, so re-reads of the same line after a
// rotation still collapse to one event.
func (r Record) DedupKey() string {
	if r.MessageID != "" || r.RequestID != "" {
		return "msg:" + r.MessageID + "|req:" + r.RequestID
	}
	parts := []string{
		r.SessionID,
		r.Timestamp.UTC().Truncate(time.Millisecond).Format(time.RFC3339Nano),
		r.Model,
		fmt.Sprintf("%d,%d,%d,%d", r.Tokens.Input, r.Tokens.Output, r.Tokens.CacheRead, r.Tokens.CacheWrite),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "fp:" + hex.EncodeToString(sum[:])
}

// NormalizeProject turns a Claude projects directory name into a display
// project ID by stripping filesystem-derived prefixes like "-Users-jane-".
func NormalizeProject(name string, prefixes []string) string {
	for _, prefix := range prefixes {
		if idx := strings.Index(name, prefix); idx == 0 {
			rest := name[len(prefix):]
			// Drop the username segment that follows the prefix.
			if slash := strings.Index(rest, "-"); slash >= 0 {
				rest = rest[slash+1:]
			}
			if rest != "" {
				return rest
			}
		}
	}
	return name
}
