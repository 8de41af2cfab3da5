// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package throttle

import (
	"sync"
	"time"
)

// ThrottleDetails holds the throttling state for one key.
type ThrottleDetails struct {
	Start time.Time
	Count int
}

// GenericThrottle allows enforcing limits of the form
// "at most X events per time window of duration Y"
type GenericThrottle struct {
	ThrottleDetails // variable state: what events have been seen
	// these are constant after creation:
	Duration time.Duration // window length to consider
	Limit    int           // number of events allowed per window
}

// Touch checks whether an additional event is allowed:
// it either denies it (by returning false) or allows it (by returning true)
// and records it
func (g *GenericThrottle) Touch() (throttled bool, remainingTime time.Duration) {
	return g.touch(time.Now().UTC())
}

func (g *GenericThrottle) touch(now time.Time) (throttled bool, remainingTime time.Duration) {
	if g.Limit == 0 {
		return // limit of 0 disables throttling
	}

	elapsed := now.Sub(g.Start)
	if elapsed > g.Duration {
		// reset window, record the operation
		g.Start = now
		g.Count = 1
		return false, 0
	} else if g.Count >= g.Limit {
		// we are throttled
		return true, g.Start.Add(g.Duration).Sub(now)
	} else {
		// we are not throttled, record the operation
		g.Count += 1
		return false, 0
	}
}

func (g *GenericThrottle) expired(now time.Time) bool {
	return now.Sub(g.Start) > g.Duration
}

// Keyed is a set of GenericThrottles sharing one limit, e.g. one per account.
type Keyed struct {
	sync.Mutex // tier 1

	duration  time.Duration
	limit     int
	throttles map[string]*GenericThrottle
	lastPrune time.Time
}

// NewKeyed returns a Keyed allowing limit events per key per duration.
// A limit of 0 disables throttling.
func NewKeyed(duration time.Duration, limit int) *Keyed {
	return &Keyed{
		duration:  duration,
		limit:     limit,
		throttles: make(map[string]*GenericThrottle),
	}
}

// Touch records an event for key, reporting whether it is throttled.
func (k *Keyed) Touch(key string) (throttled bool, remainingTime time.Duration) {
	return k.touch(key, time.Now().UTC())
}

func (k *Keyed) touch(key string, now time.Time) (throttled bool, remainingTime time.Duration) {
	if k.limit == 0 {
		return
	}

	k.Lock()
	defer k.Unlock()

	if now.Sub(k.lastPrune) > k.duration {
		k.prune(now)
	}
	g, ok := k.throttles[key]
	if !ok {
		g = &GenericThrottle{Duration: k.duration, Limit: k.limit}
		k.throttles[key] = g
	}
	return g.touch(now)
}

// Reset forgets the events recorded for key.
func (k *Keyed) Reset(key string) {
	k.Lock()
	defer k.Unlock()
	delete(k.throttles, key)
}

func (k *Keyed) prune(now time.Time) {
	for key, g := range k.throttles {
		if g.expired(now) {
			delete(k.throttles, key)
		}
	}
	k.lastPrune = now
}
