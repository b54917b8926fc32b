package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/usage"
)

// ErrNotUsage marks lines that are valid JSON but carry no billable usage
// (user turns, system events, summaries). They are skipped without counting
// against the rejection diagnostics.
var ErrNotUsage = errors.New("parse: entry carries no usage data")

// MalformedEntryError describes a line that could not be turned into a
// usage record. It is diagnostic only and never fatal to the stream.
type MalformedEntryError struct {
	Reason string
	Err    error
}

func (e *MalformedEntryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: malformed entry: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse: malformed entry: %s", e.Reason)
}

func (e *MalformedEntryError) Unwrap() error { return e.Err }

// Source carries the provenance the tailer knows about a line.
type Source struct {
	File    string
	Offset  int64
	Project string
	// Session is the fallback session ID derived from the file name when
	// the entry itself does not carry one.
	Session string
}

// rawEntry maps the subset of the session log schema the engine consumes.
// Unknown fields are ignored for forward compatibility.
type rawEntry struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
	Message   *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage *struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// Line decodes one raw log line into a usage record. It returns ErrNotUsage
// for recognized non-usage lines and *MalformedEntryError otherwise. Numeric
// fields absent from the line default to zero; negative token counts are
// rejected as malformed.
func Line(data []byte, src Source) (usage.Record, error) {
	var raw rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return usage.Record{}, &MalformedEntryError{Reason: "invalid JSON", Err: err}
	}

	if raw.Type != "assistant" || raw.Message == nil || raw.Message.Usage == nil {
		return usage.Record{}, ErrNotUsage
	}

	if raw.Timestamp == "" {
		return usage.Record{}, &MalformedEntryError{Reason: "missing timestamp"}
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return usage.Record{}, &MalformedEntryError{Reason: "invalid timestamp", Err: err}
	}

	u := raw.Message.Usage
	if u.InputTokens < 0 || u.OutputTokens < 0 || u.CacheCreationInputTokens < 0 || u.CacheReadInputTokens < 0 {
		return usage.Record{}, &MalformedEntryError{Reason: "negative token count"}
	}

	sessionID := raw.SessionID
	if sessionID == "" {
		sessionID = src.Session
	}

	return usage.Record{
		Timestamp: ts.UTC(),
		SessionID: sessionID,
		ProjectID: src.Project,
		Model:     raw.Message.Model,
		Tokens: usage.TokenCounts{
			Input:      u.InputTokens,
			Output:     u.OutputTokens,
			CacheRead:  u.CacheReadInputTokens,
			CacheWrite: u.CacheCreationInputTokens,
		},
		MessageID:    raw.Message.ID,
		RequestID:    raw.RequestID,
		SourceFile:   src.File,
		SourceOffset: src.Offset,
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05.000Z", raw)
}
