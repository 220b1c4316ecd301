package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// FailureDelay pads failed authentication responses to a randomized minimum
// duration, so "no such user" and "wrong password" take about the same time.
type FailureDelay struct {
	Base   time.Duration
	Spread time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFailureDelay returns a delay of base plus a random value in [0, spread).
func NewFailureDelay(base, spread time.Duration) *FailureDelay {
	return &FailureDelay{Base: base, Spread: spread, sleep: sleepCtx}
}

// Target returns the padded duration for a spread sample in [0, 1).
func (d *FailureDelay) Target(sample float64) time.Duration {
	if sample < 0 {
		sample = 0
	}
	return d.Base + time.Duration(float64(d.Spread)*sample)
}

// WaitFrom blocks until at least the target duration has elapsed since start,
// or ctx is done.
func (d *FailureDelay) WaitFrom(ctx context.Context, start time.Time) error {
	if d == nil || (d.Base <= 0 && d.Spread <= 0) {
		return nil
	}

	remaining := d.Target(cryptoFloat()) - time.Since(start)
	if remaining <= 0 {
		return nil
	}
	return d.sleep(ctx, remaining)
}

// cryptoFloat returns a uniform sample in [0, 1) from crypto/rand, or 0 on error.
func cryptoFloat() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
