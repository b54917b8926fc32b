package usage

import (
	"strings"
	"testing"
	"time"
)

func TestDedupKey_StableIDDominates(t *testing.T) {
	one := Record{
		Timestamp: time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC),
		SessionID: "session-1",
		MessageID: "msg_01",
		RequestID: "req_01",
		Tokens:    TokenCounts{Input: 100},
	}
	two := one
	two.Timestamp = two.Timestamp.Add(3 * time.Minute)
	two.Tokens.Input = 900

	if one.DedupKey() != two.DedupKey() {
		t.Fatal("expected message/request IDs to dominate the dedup key")
	}
}

func TestDedupKey_FallbackFingerprint(t *testing.T) {
	one := Record{
		Timestamp: time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC),
		SessionID: "session-1",
		Model:     "claude-sonnet-4",
		Tokens:    TokenCounts{Input: 10, Output: 5},
	}
	if !strings.HasPrefix(one.DedupKey(), "fp:") {
		t.Fatalf("expected fingerprint fallback, got %q", one.DedupKey())
	}

	two := one
	if one.DedupKey() != two.DedupKey() {
		t.Fatal("identical records must share a fingerprint")
	}

	two.Tokens.Output = 6
	if one.DedupKey() == two.DedupKey() {
		t.Fatal("distinct token counts must produce distinct fingerprints")
	}
}

func TestTokenCounts_Total(t *testing.T) {
	tc := TokenCounts{Input: 1, Output: 2, CacheRead: 3, CacheWrite: 4}
	if tc.Total() != 10 {
		t.Fatalf("Total() = %d, want 10", tc.Total())
	}
}

func TestNormalizeProject(t *testing.T) {
	prefixes := []string{"-Users-", "-home-"}

	cases := []struct {
		in   string
		want string
	}{
		{"-Users-jane-src-myapp", "src-myapp"},
		{"-home-jane-work", "work"},
		{"plain-project", "plain-project"},
		{"-Users-", "-Users-"},
	}
	for _, tc := range cases {
		if got := NormalizeProject(tc.in, prefixes); got != tc.want {
			t.Errorf("NormalizeProject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
