package call

import (
	"context"
	"log"
	"sync"

	"github.com/sweeney/asterisk-callflow/internal/ari"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/plan"
)

// Bridge owns one remote mixing bridge and the channels inside it.
type Bridge struct {
	room   *Room
	client ari.Client
	plan   *plan.Node

	tag      string
	bridgeID string

	mu        sync.Mutex
	chans     map[string]Channel
	clips     map[string]*Clip
	destroyed bool
}

func newBridge(r *Room, p *plan.Node) *Bridge {
	return &Bridge{
		room:     r,
		client:   r.client,
		plan:     p,
		tag:      p.Tag,
		bridgeID: p.Tag + correlator.IDDelimiter + r.callID,
		chans:    make(map[string]Channel),
		clips:    make(map[string]*Clip),
	}
}

// start creates the remote bridge. The api_create_bridge status records
// the result code either way; downstream triggers watch it. Failure is
// terminal for this subtree, not for the call.
func (b *Bridge) start(ctx context.Context) {
	log.Printf("bridge %s: start", b.bridgeID)
	resp, err := b.client.CreateBridge(ctx, b.bridgeID)
	b.room.AddTagStatus(b.tag, "api_create_bridge", statusCode(resp, err))
	if err != nil || !resp.Success {
		b.room.AddTagStatus(b.tag, "error_create_bridge", resp.Message)
		b.room.AddTagStatus(b.tag, StatusStop, "")
	}
}

// destroy removes the remote bridge (and with it any channels still in
// it). Calling it twice is a no-op.
func (b *Bridge) destroy(ctx context.Context) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.mu.Unlock()

	log.Printf("bridge %s: destroy", b.bridgeID)
	resp, err := b.client.DestroyBridge(ctx, b.bridgeID)
	b.room.recordOnly(b.tag, "api_destroy_bridge", statusCode(resp, err))
}

// checkChanTriggers evaluates the channel and clip slots of this bridge:
// terminate checks for live children first, then start checks for
// missing ones, then recursion into each channel's own triggers. Clip
// children play into the bridge itself rather than one leg.
func (b *Bridge) checkChanTriggers(ctx context.Context) {
	b.pruneStoppedChans()

	for _, cp := range b.plan.Children {
		if cp.Kind == plan.KindClip {
			continue
		}
		c := b.channel(cp.Tag)
		if c == nil {
			continue
		}
		for _, trg := range cp.Triggers {
			if trg.Action != plan.ActionTerminate || !trg.Active || !b.room.ledger.Has(trg.Tag, trg.Status) {
				continue
			}
			trg.Active = false
			c.Destroy(ctx)
			b.removeChannel(cp.Tag)
		}
	}

	for _, cp := range b.plan.Children {
		if cp.Kind == plan.KindClip {
			continue
		}
		if b.channel(cp.Tag) != nil {
			continue
		}
		for _, trg := range cp.Triggers {
			if trg.Action != plan.ActionStart || !trg.Active || !b.room.ledger.Has(trg.Tag, trg.Status) {
				continue
			}
			trg.Active = false
			c := newChannel(b.room, b.bridgeID, cp)
			b.addChannel(c)
			b.room.applyLocal(ctx, statusUpdate{tag: cp.Tag, status: cp.Status, value: c.ChanID()})
			b.room.exec(func() { c.Start(ctx) })
		}
	}

	b.checkClipTriggers(ctx)

	for _, c := range b.chanSnapshot() {
		c.CheckTriggers(ctx)
	}
}

// checkClipTriggers evaluates bridge-level clip slots, terminate before
// start, then the clips' invoke functions.
func (b *Bridge) checkClipTriggers(ctx context.Context) {
	for _, cp := range b.plan.Children {
		if cp.Kind != plan.KindClip {
			continue
		}
		existing := b.clip(cp.Tag)
		if existing != nil {
			for _, trg := range cp.Triggers {
				if trg.Action != plan.ActionTerminate || !trg.Active || !b.room.ledger.Has(trg.Tag, trg.Status) {
					continue
				}
				trg.Active = false
				clip := existing
				b.room.exec(func() { clip.Stop(ctx) })
			}
			continue
		}
		for _, trg := range cp.Triggers {
			if trg.Action != plan.ActionStart || !trg.Active || !b.room.ledger.Has(trg.Tag, trg.Status) {
				continue
			}
			trg.Active = false
			clip := newBridgeClip(b.room, b.bridgeID, cp)
			b.addClip(clip)
			b.room.applyLocal(ctx, statusUpdate{tag: cp.Tag, status: cp.Status, value: clip.clipID})
			b.room.exec(func() { clip.Start(ctx) })
		}
	}

	for _, clip := range b.clipSnapshot() {
		b.room.fireInvokeTriggers(ctx, clip.plan, clip.invokeFuncs())
	}
}

// pruneStoppedChans drops channels whose tag has reached stop, so a
// failed create never leaves a dead channel eligible for bridging.
func (b *Bridge) pruneStoppedChans() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tag := range b.chans {
		if b.room.ledger.Has(tag, StatusStop) {
			delete(b.chans, tag)
			log.Printf("bridge %s: removed stopped chan %s", b.bridgeID, tag)
		}
	}
}

func (b *Bridge) addChannel(c Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chans[c.Tag()] = c
}

func (b *Bridge) removeChannel(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chans, tag)
}

func (b *Bridge) channel(tag string) Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chans[tag]
}

func (b *Bridge) chanSnapshot() []Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Channel, 0, len(b.chans))
	for _, c := range b.chans {
		out = append(out, c)
	}
	return out
}

func (b *Bridge) addClip(clip *Clip) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clips[clip.tag] = clip
}

func (b *Bridge) clip(tag string) *Clip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clips[tag]
}

func (b *Bridge) clipSnapshot() []*Clip {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Clip, 0, len(b.clips))
	for _, clip := range b.clips {
		out = append(out, clip)
	}
	return out
}
