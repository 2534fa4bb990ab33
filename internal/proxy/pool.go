package proxy

import (
	"time"
)

// State is where a raw proxy currently sits in the pool.
type State int

const (
	StateUnknown State = iota
	StateReady
	StateInUse
	StateCooling
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateInUse:
		return "in_use"
	case StateCooling:
		return "cooling"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Pool tracks raw proxies across ready, in-use and cooling. It is not safe
// for concurrent use; the scheduler reactor owns it.
type Pool struct {
	ready   []string
	states  map[string]State
	until   map[string]time.Time
	timers  map[string]*time.Timer
	stopped bool
}

// Snapshot is a point-in-time copy of the pool.
type Snapshot struct {
	Ready   []string             `json:"ready"`
	InUse   []string             `json:"in_use"`
	Cooling map[string]time.Time `json:"cooling"`
	Dropped []string             `json:"dropped"`
}

func NewPool() *Pool {
	return &Pool{
		states: make(map[string]State),
		until:  make(map[string]time.Time),
		timers: make(map[string]*time.Timer),
	}
}

// Offer adds raw to the ready tail unless it is already tracked. Dropped
// proxies stay dropped.
func (p *Pool) Offer(raw string) bool {
	if raw == "" {
		return false
	}
	if _, ok := p.states[raw]; ok {
		return false
	}
	p.states[raw] = StateReady
	p.ready = append(p.ready, raw)
	return true
}

// Take pops the ready head and marks it in use.
func (p *Pool) Take() (string, bool) {
	if len(p.ready) == 0 {
		return "", false
	}
	raw := p.ready[0]
	p.ready = p.ready[1:]
	p.states[raw] = StateInUse
	return raw, true
}

// Release returns an in-use proxy to the ready tail.
func (p *Pool) Release(raw string) {
	if p.states[raw] != StateInUse {
		return
	}
	p.states[raw] = StateReady
	p.ready = append(p.ready, raw)
}

// Drop retires an in-use proxy for the rest of the run.
func (p *Pool) Drop(raw string) {
	if p.states[raw] != StateInUse {
		return
	}
	p.states[raw] = StateDropped
}

// Cool withholds an in-use proxy for d. When the single-shot timer fires,
// onReady is called with raw from the timer goroutine; the owner is expected
// to hand it back to its own goroutine and call Readmit.
func (p *Pool) Cool(raw string, d time.Duration, onReady func(raw string)) {
	if p.states[raw] != StateInUse {
		return
	}
	p.states[raw] = StateCooling
	p.until[raw] = time.Now().Add(d)
	if p.stopped {
		return
	}
	p.timers[raw] = time.AfterFunc(d, func() { onReady(raw) })
}

// Readmit moves a cooling proxy to the ready tail. It reports whether raw
// was cooling.
func (p *Pool) Readmit(raw string) bool {
	if p.states[raw] != StateCooling {
		return false
	}
	delete(p.until, raw)
	delete(p.timers, raw)
	p.states[raw] = StateReady
	p.ready = append(p.ready, raw)
	return true
}

// State reports where raw currently is.
func (p *Pool) State(raw string) State {
	return p.states[raw]
}

func (p *Pool) ReadyCount() int { return len(p.ready) }

func (p *Pool) InUseCount() int { return p.count(StateInUse) }

func (p *Pool) CoolingCount() int { return len(p.until) }

func (p *Pool) count(s State) int {
	n := 0
	for _, st := range p.states {
		if st == s {
			n++
		}
	}
	return n
}

// Snapshot copies the pool state.
func (p *Pool) Snapshot() Snapshot {
	snap := Snapshot{
		Ready:   append([]string(nil), p.ready...),
		InUse:   []string{},
		Cooling: make(map[string]time.Time, len(p.until)),
		Dropped: []string{},
	}
	for raw, st := range p.states {
		switch st {
		case StateInUse:
			snap.InUse = append(snap.InUse, raw)
		case StateDropped:
			snap.Dropped = append(snap.Dropped, raw)
		}
	}
	for raw, t := range p.until {
		snap.Cooling[raw] = t
	}
	return snap
}

// Stop cancels pending cool-down timers. Cooling proxies stay cooling.
func (p *Pool) Stop() {
	p.stopped = true
	for raw, t := range p.timers {
		t.Stop()
		delete(p.timers, raw)
	}
}
