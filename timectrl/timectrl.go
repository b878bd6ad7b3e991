package timectrl

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Resolution is the smallest representable step of simulation time. The MAC
// subtracts one Resolution from every timeslot to leave a guard interval.
const Resolution = time.Nanosecond

// Seconds converts a floating point number of seconds into a Duration,
// rounding to the nearest Resolution step.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// SimClock is an interface for accessing simulation time. Components depend on
// it rather than on a concrete controller so tests can drive time by hand.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances by Tick as fast as the listeners allow.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// TimeController drives simulation time in fixed steps and notifies
// registered listeners after each step.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the controller to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Start runs the controller in a separate goroutine and returns a channel
// closed when it finishes. A zero duration runs forever.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tc.Run(context.Background(), duration)
	}()
	return done
}

// Run advances simulation time until duration has elapsed or ctx is done,
// calling the listeners after every step on the calling goroutine. The last
// step is shortened so that time stops exactly at StartTime+duration. A zero
// duration runs until ctx is done.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	if tc.Tick <= 0 {
		return fmt.Errorf("time controller tick %s must be positive", tc.Tick)
	}

	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	var tick <-chan time.Time
	if tc.Mode == RealTime {
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		step := tc.Tick
		if duration > 0 && elapsed+step > duration {
			step = duration - elapsed
		}
		simTime = simTime.Add(step)
		elapsed += step

		tc.SetTime(simTime)
		for _, fn := range listeners {
			fn(simTime)
		}
	}
	return nil
}
