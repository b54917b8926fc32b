package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/usage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "meter", "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(msgID string, ts time.Time) usage.Record {
	return usage.Record{
		Timestamp: ts,
		SessionID: "sess-1",
		ProjectID: "proj-1",
		Model:     "claude-sonnet-4",
		Tokens:    usage.TokenCounts{Input: 100, Output: 50},
		MessageID: msgID,
		RequestID: "req-" + msgID,
	}
}

func TestAppendReplay(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, testRecord("b", base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, testRecord("a", base)); err != nil {
		t.Fatal(err)
	}

	var got []usage.Record
	if err := store.Replay(ctx, func(rec usage.Record) error {
		got = append(got, rec)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("replayed %d records, want 2", len(got))
	}
	if got[0].MessageID != "a" || got[1].MessageID != "b" {
		t.Fatalf("replay out of timestamp order: %s, %s", got[0].MessageID, got[1].MessageID)
	}
	if got[0].Tokens.Input != 100 || got[0].SessionID != "sess-1" {
		t.Fatalf("record round-trip lost fields: %+v", got[0])
	}
}

func TestAppend_DuplicateKeyIgnored(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rec := testRecord("dup", time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC))

	if err := store.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}

	count := 0
	if err := store.Replay(ctx, func(usage.Record) error { count++; return nil }); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("duplicate dedup key stored %d times, want 1", count)
	}
}

func TestReplay_SubSecondOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 2, 11, 0, 5, 0, time.UTC)

	if err := store.Append(ctx, testRecord("b", base.Add(123*time.Millisecond))); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, testRecord("a", base.Add(120*time.Millisecond))); err != nil {
		t.Fatal(err)
	}

	var order []string
	if err := store.Replay(ctx, func(rec usage.Record) error {
		order = append(order, rec.MessageID)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("sub-second replay order = %v, want [a b]", order)
	}
}

func TestPrune_SubSecondBoundary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 2, 11, 0, 5, 0, time.UTC)

	if err := store.Append(ctx, testRecord("old", base.Add(100*time.Millisecond))); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, testRecord("new", base.Add(123*time.Millisecond))); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Prune(ctx, base.Add(120*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("pruned %d rows, want 1", removed)
	}

	var survivors []string
	if err := store.Replay(ctx, func(rec usage.Record) error {
		survivors = append(survivors, rec.MessageID)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(survivors) != 1 || survivors[0] != "new" {
		t.Fatalf("survivors = %v, want the record after the cutoff", survivors)
	}
}

func TestPrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, testRecord("old", base.Add(-72*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, testRecord("new", base)); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Prune(ctx, base.Add(-48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("pruned %d rows, want 1", removed)
	}

	count := 0
	if err := store.Replay(ctx, func(usage.Record) error { count++; return nil }); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("%d rows remain, want 1", count)
	}
}
