package pipeline

import (
	"testing"
	"time"

	"gestor/internal/acessorias"
)

func TestWatermarkFullModeIsZero(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	if wm := Watermark(nil, now); !wm.IsZero() {
		t.Fatalf("expected zero watermark in full mode, got %v", wm)
	}
}

func TestWatermarkAppliesSafetyMargin(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Hour)
	wm := Watermark(&last, now)
	want := last.Add(-5 * time.Minute)
	if !wm.Equal(want) {
		t.Fatalf("expected %v, got %v", want, wm)
	}
}

func TestWatermarkClampedToOneDay(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -10)
	wm := Watermark(&last, now)
	if wm.Before(now.Add(-24 * time.Hour)) {
		t.Fatalf("expected clamp to now-24h, got %v", wm)
	}
}

func TestWatermarkNeverInFuture(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(time.Hour)
	wm := Watermark(&last, now)
	if wm.After(now) {
		t.Fatalf("expected clamp to now, got %v", wm)
	}
}

func TestAdvanceTakesMaximum(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	prev := now.Add(-time.Hour)
	newest := now.Add(30 * time.Minute)

	if got := Advance(&prev, newest, now); !got.Equal(newest) {
		t.Fatalf("expected newest observed to win, got %v", got)
	}
	if got := Advance(&prev, time.Time{}, now); !got.Equal(now) {
		t.Fatalf("expected now for untimestamped batch, got %v", got)
	}
	future := now.Add(2 * time.Hour)
	if got := Advance(&future, newest, now); !got.Equal(future) {
		t.Fatalf("expected previous watermark preserved, got %v", got)
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	var prev *time.Time
	for i := 0; i < 5; i++ {
		next := Advance(prev, time.Time{}, now.Add(time.Duration(i)*time.Minute))
		if prev != nil && next.Before(*prev) {
			t.Fatalf("watermark went backwards: %v -> %v", *prev, next)
		}
		prev = &next
	}
}

func TestNewestObserved(t *testing.T) {
	records := []acessorias.Record{
		{"DtLastDH": "2024-06-10 11:00:00"},
		{"EntDtEvento": "2024-06-10 11:30:00"},
		{"DtLastDH": "not a date"},
		{},
	}
	got := NewestObserved(records, "DtLastDH", "EntDtEvento")
	want := time.Date(2024, 6, 10, 11, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if got := NewestObserved(nil, "DtLastDH"); !got.IsZero() {
		t.Fatalf("expected zero for empty batch, got %v", got)
	}
}
