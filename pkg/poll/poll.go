// Package poll implements bounded busy-wait polling.
//
// Nothing on the boot path yields: a Clock only burns time, and every loop
// gives up after a fixed number of waits.
package poll

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned when the condition did not hold within the bound.
var ErrTimeout = errors.New("timeout")

var errPending = errors.New("condition not met")

// Clock is the coarse timing primitive.
type Clock interface {
	// Wait returns after at least d has elapsed.
	Wait(d time.Duration)
}

// BusyClock spins on the monotonic clock.
type BusyClock struct{}

// Wait implements Clock.
func (BusyClock) Wait(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

// timer adapts a Clock to backoff.Timer, the wait happens in Start so the
// channel is always ready when read.
type timer struct {
	clock Clock
	c     chan time.Time
}

func (t *timer) Start(d time.Duration) {
	t.clock.Wait(d)
	t.c <- time.Time{}
}

func (t *timer) Stop() {}

func (t *timer) C() <-chan time.Time {
	return t.c
}

// Until evaluates cond, waiting delay between evaluations, until it holds or
// attempts waits have elapsed. The condition is evaluated once more after
// the last wait.
func Until(clock Clock, attempts int, delay time.Duration, cond func() bool) error {
	if attempts <= 0 {
		if cond() {
			return nil
		}

		return ErrTimeout
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts))
	t := &timer{clock: clock, c: make(chan time.Time, 1)}

	err := backoff.RetryNotifyWithTimer(func() error {
		if cond() {
			return nil
		}

		return errPending
	}, b, nil, t)
	if err != nil {
		return ErrTimeout
	}

	return nil
}
