package live

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of events per market into one call to fire,
// made once no new event for that market has arrived for delay.
type Debouncer struct {
	delay time.Duration
	fire  func(marketID int64)

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	gens    map[int64]uint64
	stopped bool
}

func NewDebouncer(delay time.Duration, fire func(marketID int64)) *Debouncer {
	return &Debouncer{
		delay:  delay,
		fire:   fire,
		timers: make(map[int64]*time.Timer),
		gens:   make(map[int64]uint64),
	}
}

// Trigger restarts the market's quiet-period timer.
func (d *Debouncer) Trigger(marketID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[marketID]; ok {
		t.Stop()
	}
	// A timer that already fired but has not taken the lock yet sees a
	// newer generation and backs off.
	d.gens[marketID]++
	gen := d.gens[marketID]
	d.timers[marketID] = time.AfterFunc(d.delay, func() { d.expire(marketID, gen) })
}

func (d *Debouncer) expire(marketID int64, gen uint64) {
	d.mu.Lock()
	if d.stopped || d.gens[marketID] != gen {
		d.mu.Unlock()
		return
	}
	delete(d.timers, marketID)
	delete(d.gens, marketID)
	d.mu.Unlock()

	d.fire(marketID)
}

// Pending returns the number of markets waiting for their timer.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop drops every pending timer. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	clear(d.gens)
}
