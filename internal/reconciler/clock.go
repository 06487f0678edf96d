package reconciler

import "time"

// Clock abstracts time for the debounce machinery so tests can drive it
// deterministically.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is a cancellable, resettable timer handle.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock is the wall-clock implementation used outside tests.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Stop() bool { return r.t.Stop() }

func (r *realTimer) Reset(d time.Duration) bool {
	// Drain a fired-but-unread timer before resetting, per time.Timer
	// contract.
	if !r.t.Stop() {
		select {
		case <-r.t.C:
		default:
		}
	}
	return r.t.Reset(d)
}
