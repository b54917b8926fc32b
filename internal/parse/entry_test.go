package parse

import (
	"errors"
	"testing"
	"time"
)

const validLine = `{"type":"assistant","timestamp":"2026-03-02T11:04:05.123Z","sessionId":"sess-1","requestId":"req-1","message":{"id":"msg-1","model":"claude-sonnet-4","usage":{"input_tokens":100,"output_tokens":50,"cache_creation_input_tokens":7,"cache_read_input_tokens":3}}}`

func TestLine_Valid(t *testing.T) {
	rec, err := Line([]byte(validLine), Source{File: "a.jsonl", Offset: 42, Project: "proj"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.SessionID != "sess-1" || rec.ProjectID != "proj" {
		t.Fatalf("identity fields wrong: %+v", rec)
	}
	if rec.Tokens.Input != 100 || rec.Tokens.Output != 50 || rec.Tokens.CacheWrite != 7 || rec.Tokens.CacheRead != 3 {
		t.Fatalf("token counts wrong: %+v", rec.Tokens)
	}
	want := time.Date(2026, time.March, 2, 11, 4, 5, 123_000_000, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", rec.Timestamp, want)
	}
	if rec.SourceFile != "a.jsonl" || rec.SourceOffset != 42 {
		t.Fatalf("provenance wrong: %+v", rec)
	}
}

func TestLine_InvalidJSON(t *testing.T) {
	_, err := Line([]byte(`{"type":"assistant",`), Source{})
	var malformed *MalformedEntryError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEntryError, got %v", err)
	}
}

func TestLine_NonUsageSkipped(t *testing.T) {
	for _, line := range []string{
		`{"type":"user","timestamp":"2026-03-02T11:00:00Z"}`,
		`{"type":"assistant","timestamp":"2026-03-02T11:00:00Z"}`,
		`{"type":"assistant","timestamp":"2026-03-02T11:00:00Z","message":{"id":"m"}}`,
		`{"type":"summary"}`,
	} {
		if _, err := Line([]byte(line), Source{}); !errors.Is(err, ErrNotUsage) {
			t.Errorf("line %q: expected ErrNotUsage, got %v", line, err)
		}
	}
}

func TestLine_NegativeTokensMalformed(t *testing.T) {
	line := `{"type":"assistant","timestamp":"2026-03-02T11:00:00Z","message":{"id":"m","usage":{"input_tokens":-1}}}`
	var malformed *MalformedEntryError
	if _, err := Line([]byte(line), Source{}); !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEntryError for negative tokens, got %v", err)
	}
}

func TestLine_MissingTimestampMalformed(t *testing.T) {
	line := `{"type":"assistant","message":{"id":"m","usage":{"input_tokens":1}}}`
	var malformed *MalformedEntryError
	if _, err := Line([]byte(line), Source{}); !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEntryError for missing timestamp, got %v", err)
	}
}

func TestLine_AbsentCountsDefaultZero(t *testing.T) {
	line := `{"type":"assistant","timestamp":"2026-03-02T11:00:00Z","message":{"id":"m","usage":{"output_tokens":5}}}`
	rec, err := Line([]byte(line), Source{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Tokens.Input != 0 || rec.Tokens.Output != 5 {
		t.Fatalf("expected absent counts to default to zero: %+v", rec.Tokens)
	}
}

func TestLine_SessionFallbackFromSource(t *testing.T) {
	line := `{"type":"assistant","timestamp":"2026-03-02T11:00:00Z","message":{"id":"m","usage":{"input_tokens":1}}}`
	rec, err := Line([]byte(line), Source{Session: "file-derived"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.SessionID != "file-derived" {
		t.Fatalf("session fallback not applied: %q", rec.SessionID)
	}
}

func TestLine_UnknownFieldsIgnored(t *testing.T) {
	line := `{"type":"assistant","timestamp":"2026-03-02T11:00:00Z","futureField":{"a":1},"message":{"id":"m","usage":{"input_tokens":1,"brand_new_counter":9}}}`
	if _, err := Line([]byte(line), Source{}); err != nil {
		t.Fatalf("unknown fields must be ignored, got %v", err)
	}
}
