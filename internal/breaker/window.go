package breaker

import "time"

const windowBuckets = 10

type bucket struct {
	epoch     int64
	successes int
	failures  int
}

// window counts outcomes over a rolling sampling duration split into buckets,
// so outcomes older than the sampling duration stop counting.
type window struct {
	bucketSize time.Duration
	buckets    [windowBuckets]bucket
}

func newWindow(sampling time.Duration) *window {
	size := sampling / windowBuckets
	if size <= 0 {
		size = time.Millisecond
	}
	w := &window{bucketSize: size}
	w.reset()
	return w
}

func (w *window) epoch(now time.Time) int64 {
	return now.UnixNano() / int64(w.bucketSize)
}

func (w *window) record(now time.Time, failed bool) {
	e := w.epoch(now)
	b := &w.buckets[e%windowBuckets]
	if b.epoch != e {
		*b = bucket{epoch: e}
	}
	if failed {
		b.failures++
	} else {
		b.successes++
	}
}

func (w *window) totals(now time.Time) (total, failures int) {
	e := w.epoch(now)
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.epoch < 0 || e-b.epoch >= windowBuckets {
			continue
		}
		total += b.successes + b.failures
		failures += b.failures
	}
	return total, failures
}

func (w *window) reset() {
	for i := range w.buckets {
		w.buckets[i] = bucket{epoch: -1}
	}
}
