// Package call holds the live resource tree for one phone call: a Room
// owning Bridges, Bridges owning Channels, Channels owning Clips. Each
// node mirrors one slot of the call plan, owns one remote Asterisk
// resource and records its status transitions into the call's ledger;
// every ledger write re-evaluates the triggers of the whole live tree.
package call

import (
	"context"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/asterisk-callflow/internal/ari"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/ledger"
	"github.com/sweeney/asterisk-callflow/internal/plan"
	"github.com/sweeney/asterisk-callflow/internal/publisher"
)

// Room lifecycle statuses. stop is terminal.
const (
	StatusInit  = "init"
	StatusReady = "ready"
	StatusStop  = "stop"
)

type statusUpdate struct {
	tag             string
	status          string
	externalTime    time.Time
	correlationTime time.Time
	value           string
}

// invokeFunc is a named side-effect run by an invoke trigger.
type invokeFunc func(ctx context.Context, trg *plan.Trigger)

// Room drives one call. A single pump goroutine owns the ledger cascade:
// updates arrive on the queue, are recorded, and the trigger re-check
// walks the live tree. Trigger Active flags are therefore single-writer
// and fire at most once.
type Room struct {
	tag    string
	callID string
	roomID string
	lead   *Lead
	plan   *plan.Node
	client ari.Client
	pub    publisher.Publisher
	ledger *ledger.Ledger

	mu      sync.Mutex
	bridges map[string]*Bridge

	queue    chan statusUpdate
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	pending  atomic.Int64

	// exec runs a node side effect asynchronously while counting it as
	// pending; tests swap it for an inline runner.
	exec func(fn func())
}

func NewRoom(client ari.Client, pub publisher.Publisher, lead *Lead, p *plan.Node) *Room {
	r := &Room{
		tag:     p.Tag,
		callID:  lead.CallID(),
		lead:    lead,
		plan:    p,
		client:  client,
		pub:     pub,
		ledger:  ledger.New(),
		bridges: make(map[string]*Bridge),
		queue:   make(chan statusUpdate, 128),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.roomID = p.Tag + correlator.IDDelimiter + r.callID
	r.exec = func(fn func()) {
		r.pending.Add(1)
		go func() {
			defer r.pending.Add(-1)
			fn()
		}()
	}
	return r
}

func (r *Room) Tag() string            { return r.tag }
func (r *Room) CallID() string         { return r.callID }
func (r *Room) RoomID() string         { return r.roomID }
func (r *Room) Ledger() *ledger.Ledger { return r.ledger }

// Pending reports in-flight asynchronous side effects; the reaper waits
// for zero before tearing the room down.
func (r *Room) Pending() int64 { return r.pending.Load() }

// Stopped reports whether the room has reached its terminal status.
func (r *Room) Stopped() bool { return r.ledger.Has(r.tag, StatusStop) }

// Run owns the status pump until the room is destroyed or ctx is
// cancelled. The room's initial status is recorded here so the whole
// cascade runs on one goroutine.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)

	r.applyLocal(ctx, statusUpdate{tag: r.tag, status: r.plan.Status, value: r.roomID})

	for {
		select {
		case u := <-r.queue:
			r.applyLocal(ctx, u)
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Start records the readiness status for plans without a room-level
// start trigger; trigger-driven rooms become ready when the trigger
// matches instead.
func (r *Room) Start() {
	for _, trg := range r.plan.Triggers {
		if trg.Action == plan.ActionStart {
			return
		}
	}
	r.AddTagStatus(r.tag, StatusReady, "")
}

// AddTagStatus enqueues a status for the pump and returns without
// waiting for the cascade. Safe from any goroutine.
func (r *Room) AddTagStatus(tag, status, value string) {
	select {
	case r.queue <- statusUpdate{tag: tag, status: status, value: value}:
	case <-r.done:
		log.Printf("room %s: dropping status %s/%s, pump stopped", r.roomID, tag, status)
	}
}

// HandleEvent enqueues a correlated trigger event.
func (r *Room) HandleEvent(ev correlator.TriggerEvent) {
	select {
	case r.queue <- statusUpdate{
		tag:             ev.Tag,
		status:          ev.Status,
		externalTime:    ev.ExternalTime,
		correlationTime: ev.CorrelationTime,
		value:           ev.Value,
	}:
	case <-r.done:
		log.Printf("room %s: dropping event %s/%s, pump stopped", r.roomID, ev.Tag, ev.Status)
	}
}

// applyLocal records one status and runs the full trigger cascade.
// Pump goroutine only.
func (r *Room) applyLocal(ctx context.Context, u statusUpdate) {
	first := r.ledger.Record(u.tag, u.status, u.externalTime, u.correlationTime, u.value)
	log.Printf("room %s: tag=%s status=%s first=%t", r.roomID, u.tag, u.status, first)

	if first && u.tag == r.tag {
		switch u.status {
		case StatusInit, StatusReady, StatusStop:
			r.publishLifecycle(ctx, u.tag, u.status, u.value)
		}
	}

	r.checkTriggers(ctx)
}

// recordOnly writes to the ledger without cascading. Used by Destroy
// paths, which may run outside the pump; the statuses become visible to
// the next cascade.
func (r *Room) recordOnly(tag, status, value string) {
	r.ledger.Record(tag, status, time.Time{}, time.Time{}, value)
	log.Printf("room %s: tag=%s status=%s (no cascade)", r.roomID, tag, status)
}

// checkTriggers re-evaluates the whole live tree: the room's own
// triggers first, then bridges, then each bridge's channels and clips.
func (r *Room) checkTriggers(ctx context.Context) {
	for _, trg := range r.plan.Triggers {
		if !trg.Active || !r.ledger.Has(trg.Tag, trg.Status) {
			continue
		}
		switch trg.Action {
		case plan.ActionStart:
			trg.Active = false
			r.applyLocal(ctx, statusUpdate{tag: r.tag, status: StatusReady})
		case plan.ActionTerminate:
			trg.Active = false
			r.applyLocal(ctx, statusUpdate{tag: r.tag, status: StatusStop, value: "trigger"})
		}
	}

	r.fireInvokeTriggers(ctx, r.plan, r.invokeFuncs())

	r.checkBridgeTriggers(ctx)

	for _, b := range r.bridgeSnapshot() {
		b.checkChanTriggers(ctx)
	}
}

// checkBridgeTriggers runs terminate checks for live bridges before
// start checks for missing ones, so a tag torn down earlier in the pass
// is eligible to be recreated within the same cascade.
func (r *Room) checkBridgeTriggers(ctx context.Context) {
	r.pruneStoppedBridges()

	for _, bp := range r.plan.Children {
		b := r.bridge(bp.Tag)
		if b == nil {
			continue
		}
		for _, trg := range bp.Triggers {
			if trg.Action != plan.ActionTerminate || !trg.Active || !r.ledger.Has(trg.Tag, trg.Status) {
				continue
			}
			trg.Active = false
			b.destroy(ctx)
			r.removeBridge(bp.Tag)
		}
	}

	for _, bp := range r.plan.Children {
		if r.bridge(bp.Tag) != nil {
			continue
		}
		for _, trg := range bp.Triggers {
			if trg.Action != plan.ActionStart || !trg.Active || !r.ledger.Has(trg.Tag, trg.Status) {
				continue
			}
			trg.Active = false
			b := newBridge(r, bp)
			r.addBridge(b)
			r.applyLocal(ctx, statusUpdate{tag: bp.Tag, status: bp.Status, value: b.bridgeID})
			r.exec(func() { b.start(ctx) })
		}
	}
}

// pruneStoppedBridges drops bridges whose tag has reached stop (creation
// failure or teardown) so later passes never bridge against them.
func (r *Room) pruneStoppedBridges() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tag := range r.bridges {
		if r.ledger.Has(tag, StatusStop) {
			delete(r.bridges, tag)
			log.Printf("room %s: removed stopped bridge %s", r.roomID, tag)
		}
	}
}

// fireInvokeTriggers runs matched invoke triggers against the node's
// function table. The Active flip happens before the side effect is
// scheduled, never after.
func (r *Room) fireInvokeTriggers(ctx context.Context, p *plan.Node, funcs map[string]invokeFunc) {
	for _, trg := range p.Triggers {
		if trg.Action != plan.ActionInvoke || !trg.Active {
			continue
		}
		if !r.ledger.Has(trg.Tag, trg.Status) {
			continue
		}
		fn, ok := funcs[trg.Func]
		if !ok {
			log.Printf("room %s: no invoke func %q for tag %s", r.roomID, trg.Func, p.Tag)
			continue
		}
		trg.Active = false
		t := trg
		r.exec(func() { fn(ctx, t) })
	}
}

func (r *Room) invokeFuncs() map[string]invokeFunc {
	return map[string]invokeFunc{
		"publish_lifecycle": func(ctx context.Context, trg *plan.Trigger) {
			value, _ := r.ledger.Value(trg.Tag, trg.Status)
			r.publishLifecycle(ctx, trg.Tag, trg.Status, value)
		},
	}
}

func (r *Room) publishLifecycle(ctx context.Context, tag, status, value string) {
	ev := publisher.LifecycleEvent{
		CallID:    r.callID,
		Tag:       tag,
		Status:    status,
		Value:     value,
		Timestamp: time.Now(),
	}
	if err := r.pub.PublishLifecycle(ctx, ev); err != nil {
		log.Printf("room %s: publishing lifecycle %s/%s: %v", r.roomID, tag, status, err)
	}
}

// Destroy tears down the whole bridge subtree and stops the status
// pump. Safe to call more than once and from outside the pump.
func (r *Room) Destroy(ctx context.Context) {
	r.mu.Lock()
	bridges := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		bridges = append(bridges, b)
	}
	r.bridges = make(map[string]*Bridge)
	r.mu.Unlock()

	for _, b := range bridges {
		b.destroy(ctx)
	}

	r.quitOnce.Do(func() { close(r.quit) })
}

func (r *Room) addBridge(b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[b.tag] = b
}

func (r *Room) removeBridge(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, tag)
}

func (r *Room) bridge(tag string) *Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bridges[tag]
}

func (r *Room) bridgeSnapshot() []*Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, b)
	}
	return out
}

// BridgeIDs lists the live bridge resource ids for API projections.
func (r *Room) BridgeIDs() []string {
	var out []string
	for _, b := range r.bridgeSnapshot() {
		out = append(out, b.bridgeID)
	}
	return out
}

// ChannelIDs lists the live channel resource ids across all bridges.
func (r *Room) ChannelIDs() []string {
	var out []string
	for _, b := range r.bridgeSnapshot() {
		for _, c := range b.chanSnapshot() {
			out = append(out, c.ChanID())
		}
	}
	return out
}

func statusCode(resp ari.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return strconv.Itoa(resp.HTTPCode)
}
