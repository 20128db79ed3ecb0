// Package backoff computes exponential retry delays shared by the network client and job backends.
package backoff

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Exponential doubles Base for every attempt, capped at Max when Max > 0.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

// Delay returns the wait before the retry following the given zero-based attempt.
// Attempt 0 waits Base, attempt 1 waits 2*Base and so on.
func (e Exponential) Delay(attempt int) time.Duration {
	if e.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(e.Base) * math.Pow(2, float64(attempt))
	if e.Max > 0 && delay > float64(e.Max) {
		delay = float64(e.Max)
	}
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	if !e.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
