package call

import "time"

// Clock abstracts time for the poll ticker, the chunk interval and the
// incoming timeout.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// intervalClock measures capture time toward the next chunk boundary. It only
// runs while the microphone is owned by capture; pausing it keeps the time
// already accrued. It is used from the dispatch loop only.
type intervalClock struct {
	clock    Clock
	interval time.Duration
	fire     func(gen uint64)

	remaining time.Duration
	since     time.Time
	timer     Timer
	running   bool
	gen       uint64
}

func newIntervalClock(c Clock, interval time.Duration, fire func(gen uint64)) *intervalClock {
	return &intervalClock{clock: c, interval: interval, fire: fire, remaining: interval}
}

func (ic *intervalClock) resume() {
	if ic.running {
		return
	}
	ic.running = true
	ic.since = ic.clock.Now()
	gen := ic.gen
	ic.timer = ic.clock.AfterFunc(ic.remaining, func() { ic.fire(gen) })
}

func (ic *intervalClock) pause() {
	if !ic.running {
		return
	}
	ic.timer.Stop()
	ic.running = false
	ic.gen++
	ic.remaining -= ic.clock.Now().Sub(ic.since)
	if ic.remaining < 0 {
		ic.remaining = 0
	}
}

// boundary accepts a fire for gen. It reports false for a stale fire.
func (ic *intervalClock) boundary(gen uint64) bool {
	if !ic.running || gen != ic.gen {
		return false
	}
	ic.running = false
	ic.gen++
	ic.remaining = ic.interval
	return true
}

func (ic *intervalClock) stop() {
	if ic.running {
		ic.timer.Stop()
	}
	ic.running = false
	ic.gen++
}
