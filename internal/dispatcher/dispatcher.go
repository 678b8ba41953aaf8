// Package dispatcher owns the set of live rooms: it admits new calls,
// routes correlated events to the owning room and reaps terminated
// rooms after a grace window.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/asterisk-callflow/internal/ari"
	"github.com/sweeney/asterisk-callflow/internal/call"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/metrics"
	"github.com/sweeney/asterisk-callflow/internal/plan"
	"github.com/sweeney/asterisk-callflow/internal/publisher"
)

// ErrDuplicateCall rejects an admission whose call id is already live.
var ErrDuplicateCall = errors.New("call id already live")

// ErrAdmissionClosed rejects admissions while the process is draining.
var ErrAdmissionClosed = errors.New("admission closed")

const aliveInterval = 60 * time.Second

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Dispatcher routes admitted calls to Rooms and inbound events to the
// owning Room. Rooms never coordinate with each other; the dispatcher is
// the only cross-call structure.
type Dispatcher struct {
	client ari.Client
	pub    publisher.Publisher
	plans  map[string]*plan.Node
	events <-chan correlator.TriggerEvent

	grace    time.Duration
	interval time.Duration
	clock    Clock

	mu    sync.Mutex
	rooms map[string]*call.Room

	closed atomic.Bool

	// baseCtx is the parent of every room pump, owned by the dispatcher
	// so rooms admitted before Run are still cancellable.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Options configures a Dispatcher.
type Options struct {
	Client   ari.Client
	Pub      publisher.Publisher
	Plans    map[string]*plan.Node
	Events   <-chan correlator.TriggerEvent
	Grace    time.Duration
	Interval time.Duration
	Clock    Clock
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		client:   opts.Client,
		pub:      opts.Pub,
		plans:    opts.Plans,
		events:   opts.Events,
		grace:    opts.Grace,
		interval: opts.Interval,
		clock:    opts.Clock,
		rooms:    make(map[string]*call.Room),
	}
	d.baseCtx, d.cancel = context.WithCancel(context.Background())
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.interval <= 0 {
		d.interval = 5 * time.Second
	}
	return d
}

// Admit builds a Room for the lead and starts it. Each room gets its own
// clone of the plan so trigger firing stays per-call.
func (d *Dispatcher) Admit(lead *call.Lead) (*call.Room, error) {
	if d.closed.Load() {
		metrics.CallsRejected.Inc()
		return nil, ErrAdmissionClosed
	}

	p, ok := d.plans[lead.PlanName]
	if !ok {
		metrics.CallsRejected.Inc()
		return nil, fmt.Errorf("unknown plan %q", lead.PlanName)
	}

	d.mu.Lock()
	if _, exists := d.rooms[lead.CallID()]; exists {
		d.mu.Unlock()
		metrics.CallsRejected.Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, lead.CallID())
	}
	room := call.NewRoom(d.client, d.pub, lead, p.Clone())
	d.rooms[room.CallID()] = room
	d.mu.Unlock()

	metrics.CallsAdmitted.Inc()
	metrics.ActiveRooms.Inc()
	log.Printf("dispatcher: admitted call %s with plan %s", room.CallID(), lead.PlanName)

	go room.Run(d.baseCtx)
	room.Start()
	return room, nil
}

// RouteEvent hands a trigger event to the owning room. An unknown call
// id is not an error: the room may be reaped already, or the resource
// belongs to no tracked call.
func (d *Dispatcher) RouteEvent(ev correlator.TriggerEvent) {
	d.mu.Lock()
	room := d.rooms[ev.CallID]
	d.mu.Unlock()

	if room == nil {
		metrics.EventsUnrouted.Inc()
		return
	}
	room.HandleEvent(ev)
}

// Run consumes the event queue and drives the periodic sweeps until ctx
// is cancelled. Cancellation propagates to every room pump.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.cancel()

	reap := time.NewTicker(d.interval)
	defer reap.Stop()
	alive := time.NewTicker(aliveInterval)
	defer alive.Stop()

	for {
		select {
		case ev := <-d.events:
			d.RouteEvent(ev)
		case <-reap.C:
			d.ReapTerminated(ctx)
		case <-alive.C:
			log.Printf("dispatcher: alive, rooms=%d admission_closed=%t", d.Count(), d.closed.Load())
		case <-ctx.Done():
			return
		}
	}
}

// ReapTerminated destroys every room whose stop record is older than the
// grace window and whose asynchronous side effects have drained.
func (d *Dispatcher) ReapTerminated(ctx context.Context) {
	for _, room := range d.Rooms() {
		stoppedAt, ok := room.Ledger().FirstOccurrence(room.Tag(), call.StatusStop)
		if !ok {
			continue
		}
		if d.clock().Sub(stoppedAt) < d.grace {
			continue
		}
		if room.Pending() > 0 {
			log.Printf("dispatcher: room %s stopped but %d ops pending, deferring reap", room.RoomID(), room.Pending())
			continue
		}

		room.Destroy(ctx)
		d.mu.Lock()
		delete(d.rooms, room.CallID())
		d.mu.Unlock()
		metrics.ActiveRooms.Dec()
		log.Printf("dispatcher: reaped room %s", room.RoomID())
	}
}

// CloseAdmission stops new calls from being admitted; live calls keep
// running until reaped.
func (d *Dispatcher) CloseAdmission() {
	d.closed.Store(true)
	log.Printf("dispatcher: admission closed")
}

// AdmissionClosed reports whether the process is draining.
func (d *Dispatcher) AdmissionClosed() bool { return d.closed.Load() }

// Room returns the live room for a call id, or nil.
func (d *Dispatcher) Room(callID string) *call.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rooms[callID]
}

// Rooms returns a snapshot of all live rooms.
func (d *Dispatcher) Rooms() []*call.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*call.Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r)
	}
	return out
}

// Count returns the number of live rooms.
func (d *Dispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// Shutdown closes admission, waits up to the deadline in ctx for rooms
// to drain, then force-destroys whatever is left.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.CloseAdmission()

	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for d.Count() > 0 {
		select {
		case <-tick.C:
			d.ReapTerminated(ctx)
		case <-ctx.Done():
			for _, room := range d.Rooms() {
				room.Destroy(context.Background())
				log.Printf("dispatcher: force-terminated room %s", room.RoomID())
			}
			return
		}
	}
}
