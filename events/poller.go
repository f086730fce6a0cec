package events

import (
	"sync"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/loop"
)

// Sampler produces one reading for a poller tick. Returning false skips
// the tick.
type Sampler func() (dynamic.Value, bool)

// Poller is a start/stop toggle that samples periodically and emits into a
// ledger event. Its running state is independent of the listener set:
// listeners may exist while it is stopped, and stopping does not remove them.
type Poller struct {
	ledger   *Ledger
	sched    loop.Scheduler
	sample   Sampler
	cancel   loop.Cancel
	event    string
	interval time.Duration
	gen      uint64
	mu       sync.Mutex
	running  bool
}

// NewPoller creates a stopped poller emitting event on ledger.
func NewPoller(ledger *Ledger, sched loop.Scheduler, event string, sample Sampler) *Poller {
	return &Poller{
		ledger: ledger,
		sched:  sched,
		event:  event,
		sample: sample,
	}
}

// Start begins sampling every interval. Starting a running poller restarts
// it with the new interval.
func (p *Poller) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.running = true
	p.interval = interval
	p.armLocked(p.gen)
}

// Stop ends sampling. Once Stop returns, no reading emitted by this poller
// is delivered, including readings already queued on the loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Interval returns the current sampling interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Poller) stopLocked() {
	p.gen++
	p.running = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.gen == gen
}

func (p *Poller) armLocked(gen uint64) {
	p.cancel = p.sched.AfterFunc(p.interval, func() {
		if !p.current(gen) {
			return
		}
		if v, ok := p.sample(); ok {
			p.ledger.EmitIf(p.event, v, func() bool { return p.current(gen) })
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.running && p.gen == gen {
			p.armLocked(gen)
		}
	})
}
