package pipeline

import (
	"time"

	"gestor/internal/acessorias"
	"gestor/internal/dates"
)

const (
	// Safety margin against near-boundary writes on the source system.
	watermarkMargin = 5 * time.Minute
	// Some endpoints reject watermarks older than a day.
	maxWatermarkAge = 24 * time.Hour
)

// Watermark computes the incremental cursor for a sync. A nil last
// value means full mode, signalled by the zero time. The result is
// clamped to [now-24h, now].
func Watermark(last *time.Time, now time.Time) time.Time {
	if last == nil {
		return time.Time{}
	}
	w := last.UTC().Add(-watermarkMargin)
	if oldest := now.Add(-maxWatermarkAge); w.Before(oldest) {
		w = oldest
	}
	if w.After(now) {
		w = now
	}
	return w.Truncate(time.Second)
}

// Advance computes the watermark to persist after a successful batch:
// the maximum of the previous watermark, the newest observed row
// timestamp, and now. Taking the maximum guards against batches with no
// timestamped rows.
func Advance(prev *time.Time, newestObserved, now time.Time) time.Time {
	result := now.UTC()
	if prev != nil && prev.After(result) {
		result = prev.UTC()
	}
	if newestObserved.After(result) {
		result = newestObserved.UTC()
	}
	return result.Truncate(time.Second)
}

// NewestObserved scans a batch for its most recent timestamp under any
// of the candidate keys.
func NewestObserved(records []acessorias.Record, keys ...string) time.Time {
	var newest time.Time
	for _, rec := range records {
		for _, key := range keys {
			v, ok := rec[key]
			if !ok || v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				continue
			}
			if t, ok := dates.Parse(s); ok && t.After(newest) {
				newest = t
			}
		}
	}
	return newest
}
