package shard

import (
	"testing"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

func TestExpandNone(t *testing.T) {
	got := ExpandNone("orders")
	if len(got) != 1 || got[0] != "orders" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestFormatSuffix(t *testing.T) {
	at := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		format   string
		interval catalog.TimeInterval
		want     string
	}{
		{"_YYYYMMDD", catalog.IntervalDay, "_20260305"},
		{"_YYYYMM", catalog.IntervalMonth, "_202603"},
		{"_YYYY", catalog.IntervalYear, "_2026"},
	}
	for _, c := range cases {
		if got := FormatSuffix(c.format, c.interval, at); got != c.want {
			t.Errorf("FormatSuffix(%q) = %q, want %q", c.format, got, c.want)
		}
	}
}

func TestCurrentAndNextWindows_Day(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	current, next := CurrentAndNextWindows(catalog.IntervalDay, now)
	wantCurrent := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	wantNext := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	if !current.Equal(wantCurrent) || !next.Equal(wantNext) {
		t.Errorf("got current=%v next=%v, want current=%v next=%v", current, next, wantCurrent, wantNext)
	}
}

func TestExpandTime(t *testing.T) {
	windows := []time.Time{
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	got := ExpandTime("events", "_YYYYMMDD", catalog.IntervalDay, windows)
	want := []string{"events_20260305", "events_20260306"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ExpandTime() = %v, want %v", got, want)
	}
}

func TestParseSuffixDate_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	physical := "events" + FormatSuffix("_YYYYMMDD", catalog.IntervalDay, at)
	parsed, ok := ParseSuffixDate(physical, "events", "_YYYYMMDD", catalog.IntervalDay)
	if !ok {
		t.Fatal("expected ParseSuffixDate to succeed")
	}
	if !parsed.Equal(at) {
		t.Errorf("ParseSuffixDate() = %v, want %v", parsed, at)
	}
}

func TestParseSuffixDate_NoMatch(t *testing.T) {
	_, ok := ParseSuffixDate("other_table", "events", "_YYYYMMDD", catalog.IntervalDay)
	if ok {
		t.Fatal("expected no match for unrelated table name")
	}
}
