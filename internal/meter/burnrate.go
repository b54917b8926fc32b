package meter

import "time"

// burnWindow maintains a trailing token-consumption window in one-minute
// buckets. Adds and reads are O(window minutes), never a rescan of records.
type burnWindow struct {
	window  time.Duration
	buckets map[int64]int64 // unix minute -> tokens
}

func newBurnWindow(window time.Duration) *burnWindow {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &burnWindow{
		window:  window,
		buckets: make(map[int64]int64),
	}
}

func (w *burnWindow) Add(ts time.Time, tokens int64) {
	w.buckets[ts.Unix()/60] += tokens
}

// Rate returns tokens per minute over the trailing window ending at now.
// Windows shorter than the bucket granularity are treated as one minute.
func (w *burnWindow) Rate(now time.Time) float64 {
	minutes := int64(w.window / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	cutoff := now.Unix()/60 - minutes
	var total int64
	for minute, tokens := range w.buckets {
		if minute <= cutoff {
			delete(w.buckets, minute)
			continue
		}
		total += tokens
	}
	return float64(total) / float64(minutes)
}
