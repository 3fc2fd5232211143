package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"discowatch/pkg/logx"
)

func avatar(s string) *string { return &s }

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "state.json"), logx.Nop())
	if _, ok := l.Watermark(1); ok {
		t.Fatalf("expected no watermark in fresh ledger")
	}
	if l.NotifiedCount() != 0 {
		t.Fatalf("expected empty notified set, got %d", l.NotifiedCount())
	}
}

func TestOpenMalformedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	l := Open(path, logx.Nop())
	if _, ok := l.Watermark(1); ok {
		t.Fatalf("malformed file must reset to empty")
	}
	// The broken file must not prevent a later flush.
	l.SetWatermark(1, 10)
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestFlushReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	l := Open(path, logx.Nop())
	l.SetWatermark(111, 500)
	l.SetProfile(7, Snapshot{Username: "alice#1234", Avatar: avatar("abc")})
	l.MarkNotified(500)
	l.SetSummarySentAt("2026-08-31 10:00:00")
	if err := l.Set("custom", map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := Open(path, logx.Nop())
	if wm, ok := got.Watermark(111); !ok || wm != 500 {
		t.Fatalf("watermark = %d, %v; want 500, true", wm, ok)
	}
	s, ok := got.Profile(7)
	if !ok || s.Username != "alice#1234" || s.Avatar == nil || *s.Avatar != "abc" {
		t.Fatalf("profile = %+v, %v", s, ok)
	}
	if !got.WasNotified(500) {
		t.Fatalf("notified id lost on reload")
	}
	if got.SummarySentAt() != "2026-08-31 10:00:00" {
		t.Fatalf("summary timestamp = %q", got.SummarySentAt())
	}
	if _, ok := got.Get("custom"); !ok {
		t.Fatalf("auxiliary key lost on reload")
	}
}

func TestFlushKeysMatchLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	l := Open(path, logx.Nop())
	l.SetWatermark(1, 2)
	l.MarkNotified(2)
	l.SetSummarySentAt("2026-01-01 00:00:00")
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"last_dm_ids", "users", "notified_message_ids", "last_statistics_sent_at"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("missing document key %q", key)
		}
	}
}

func TestWatermarkNeverDecreases(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "state.json"), logx.Nop())
	l.SetWatermark(5, 100)
	l.SetWatermark(5, 40)
	if wm, _ := l.Watermark(5); wm != 100 {
		t.Fatalf("watermark moved backwards: %d", wm)
	}
	l.SetWatermark(5, 100)
	l.SetWatermark(5, 101)
	if wm, _ := l.Watermark(5); wm != 101 {
		t.Fatalf("watermark = %d, want 101", wm)
	}
}

func TestNotifiedSetCapBoundary(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "state.json"), logx.Nop())
	for i := uint64(1); i <= 5001; i++ {
		l.MarkNotified(i)
	}
	if got := l.NotifiedCount(); got != 3001 {
		t.Fatalf("notified count after 5001 inserts = %d, want 3001", got)
	}
	if l.WasNotified(1) {
		t.Fatalf("oldest id should have been trimmed")
	}
	if !l.WasNotified(5001) || !l.WasNotified(2001) {
		t.Fatalf("recent ids must survive the trim")
	}
	// Duplicates never grow the set.
	l.MarkNotified(5001)
	if got := l.NotifiedCount(); got != 3001 {
		t.Fatalf("duplicate insert changed count to %d", got)
	}
}

func TestSnapshotReplacedWhole(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "state.json"), logx.Nop())
	l.SetProfile(9, Snapshot{Username: "x", Avatar: avatar("A")})
	l.SetProfile(9, Snapshot{Username: "y"})
	s, _ := l.Profile(9)
	if s.Username != "y" || s.Avatar != nil {
		t.Fatalf("snapshot not fully replaced: %+v", s)
	}
	l.ClearProfile(9)
	if _, ok := l.Profile(9); ok {
		t.Fatalf("profile survived ClearProfile")
	}
}

func TestUnknownKeysSurviveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	seed := []byte(`{"last_dm_ids":{"1":5},"future_section":{"a":true}}`)
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		t.Fatal(err)
	}

	l := Open(path, logx.Nop())
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}
	got := Open(path, logx.Nop())
	raw, ok := got.Get("future_section")
	if !ok {
		t.Fatalf("unknown key dropped on round trip")
	}
	var v struct {
		A bool `json:"a"`
	}
	if err := json.Unmarshal(raw, &v); err != nil || !v.A {
		t.Fatalf("unknown key content mangled: %s (%v)", raw, err)
	}
}
