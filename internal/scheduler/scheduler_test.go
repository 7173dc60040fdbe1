package scheduler

import (
	"testing"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

func TestDefaultRetentionConfig(t *testing.T) {
	r := DefaultRetentionConfig()
	if r.DayShards != 30 || r.MonthShards != 3 || r.YearShards != 3 {
		t.Errorf("DefaultRetentionConfig() = %+v", r)
	}
}

func TestRetentionConfig_KeepFor(t *testing.T) {
	r := RetentionConfig{DayShards: 30, MonthShards: 3, YearShards: 3}
	if got := r.keepFor(catalog.IntervalDay); got != 30 {
		t.Errorf("keepFor(day) = %d, want 30", got)
	}
	if got := r.keepFor(catalog.IntervalMonth); got != 3 {
		t.Errorf("keepFor(month) = %d, want 3", got)
	}
	if got := r.keepFor(catalog.IntervalYear); got != 3 {
		t.Errorf("keepFor(year) = %d, want 3", got)
	}
	if got := r.keepFor(""); got != 0 {
		t.Errorf("keepFor(unknown) = %d, want 0", got)
	}
}

func TestRetentionCutoff_Day(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	cutoff := retentionCutoff(catalog.IntervalDay, now, 30)
	want := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if !cutoff.Equal(want) {
		t.Errorf("retentionCutoff(day, keep=30) = %v, want %v", cutoff, want)
	}
}

func TestRetentionCutoff_Month(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	cutoff := retentionCutoff(catalog.IntervalMonth, now, 3)
	want := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	if !cutoff.Equal(want) {
		t.Errorf("retentionCutoff(month, keep=3) = %v, want %v", cutoff, want)
	}
}

func TestRetentionCutoff_Year(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	cutoff := retentionCutoff(catalog.IntervalYear, now, 3)
	want := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if !cutoff.Equal(want) {
		t.Errorf("retentionCutoff(year, keep=3) = %v, want %v", cutoff, want)
	}
}
