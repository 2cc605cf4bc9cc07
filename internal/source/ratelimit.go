package source

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// RateLimitError is returned when the source keeps answering 429 after all
// backoff attempts for a page. It fails only the table being fetched; the
// orchestrator continues with the remaining tables.
type RateLimitError struct {
	Table    string
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for table %s after %d attempts", e.Table, e.Attempts)
}

// Pacer gates outbound fetch calls: a minimum delay between consecutive
// requests, plus bounded exponential backoff when the source answers 429.
//
// One Pacer is shared by every table fetch loop in a run, so the min-delay
// gate holds across all of them in aggregate. Safe for concurrent use.
type Pacer struct {
	MinDelay       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	mu   sync.Mutex
	last time.Time

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer returns a Pacer with the given inter-request delay and the
// default backoff policy (500ms doubling, capped at 30s, 5 retries).
func NewPacer(minDelay time.Duration) *Pacer {
	return &Pacer{
		MinDelay:       minDelay,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		MaxRetries:     5,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

// Wait blocks until at least MinDelay has passed since the previously
// admitted request, or ctx is done. Each caller reserves the next slot
// under the lock and sleeps outside it, so concurrent callers serialize
// MinDelay apart instead of racing through together.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.MinDelay <= 0 {
		p.mu.Lock()
		p.last = p.now()
		p.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	now := p.now()
	slot := p.last.Add(p.MinDelay)
	if slot.Before(now) {
		slot = now
	}
	p.last = slot
	wait := slot.Sub(now)
	p.mu.Unlock()

	if wait > 0 {
		return p.sleep(ctx, wait)
	}
	return nil
}

// Backoff sleeps for the attempt-th exponential backoff step (0-based).
// It returns false when attempts are exhausted and the caller should give
// up on the table.
func (p *Pacer) Backoff(ctx context.Context, attempt int) (bool, error) {
	if attempt >= p.MaxRetries {
		return false, nil
	}
	d := time.Duration(float64(p.InitialBackoff) * math.Pow(2, float64(attempt)))
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if err := p.sleep(ctx, d); err != nil {
		return false, err
	}
	return true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
