package admission

import "time"

// slidingWindow counts events over a trailing time span using fixed-size
// buckets: the minute windows use one-second buckets, the day window uses
// one-minute buckets. Buckets older than the span are pruned on every
// operation, so sums always reflect the trailing window only and a capped
// key drains back to eligibility as old buckets expire, without the reset
// spike of fixed calendar windows.
//
// The window itself carries no lock; callers hold the owning key's mutex.
type slidingWindow struct {
	span       time.Duration
	bucketSpan time.Duration
	buckets    []windowBucket
}

type windowBucket struct {
	start time.Time
	value int64
}

func newSlidingWindow(span, bucketSpan time.Duration) *slidingWindow {
	// A trailing span can straddle span/bucketSpan+1 bucket starts; the
	// extra slot keeps a still-live boundary bucket from being recycled.
	n := int(span/bucketSpan) + 1
	return &slidingWindow{
		span:       span,
		bucketSpan: bucketSpan,
		buckets:    make([]windowBucket, n),
	}
}

// add records value in the bucket covering now.
func (w *slidingWindow) add(now time.Time, value int64) {
	w.prune(now)
	b := w.bucketAt(now)
	b.value += value
}

// remove subtracts up to value from the bucket covering at. Removing from a
// bucket that has already expired is a no-op, and a bucket never goes
// negative.
func (w *slidingWindow) remove(at time.Time, value int64) {
	start := at.Truncate(w.bucketSpan)
	for i := range w.buckets {
		if w.buckets[i].start.Equal(start) {
			w.buckets[i].value -= value
			if w.buckets[i].value < 0 {
				w.buckets[i].value = 0
			}
			return
		}
	}
}

// sum returns the total over the trailing span as of now.
func (w *slidingWindow) sum(now time.Time) int64 {
	w.prune(now)
	var total int64
	for i := range w.buckets {
		if !w.buckets[i].start.IsZero() {
			total += w.buckets[i].value
		}
	}
	return total
}

func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	for i := range w.buckets {
		if !w.buckets[i].start.IsZero() && w.buckets[i].start.Before(cutoff) {
			w.buckets[i] = windowBucket{}
		}
	}
}

// bucketAt returns the bucket covering now, claiming an empty slot or
// recycling the oldest one when no bucket matches.
func (w *slidingWindow) bucketAt(now time.Time) *windowBucket {
	start := now.Truncate(w.bucketSpan)

	for i := range w.buckets {
		if w.buckets[i].start.Equal(start) {
			return &w.buckets[i]
		}
	}

	target := -1
	for i := range w.buckets {
		if w.buckets[i].start.IsZero() {
			target = i
			break
		}
	}
	if target == -1 {
		oldest := 0
		for i := 1; i < len(w.buckets); i++ {
			if w.buckets[i].start.Before(w.buckets[oldest].start) {
				oldest = i
			}
		}
		target = oldest
	}

	w.buckets[target] = windowBucket{start: start}
	return &w.buckets[target]
}
