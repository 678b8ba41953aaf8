package call

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/sweeney/asterisk-callflow/internal/ari"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/plan"
)

// Channel is the closed set of channel behaviours: outbound, inbound,
// snoop and external media. The variant is selected by the plan node's
// kind; there is no open subclassing.
type Channel interface {
	Tag() string
	ChanID() string
	Start(ctx context.Context)
	CheckTriggers(ctx context.Context)
	Destroy(ctx context.Context)
}

// newChannel dispatches on the plan kind. Unrecognised kinds fall back
// to the outbound variant with a warning, so a typo in a plan degrades
// instead of killing the call.
func newChannel(r *Room, bridgeID string, p *plan.Node) Channel {
	base := newBaseChan(r, bridgeID, p)
	switch p.Kind {
	case plan.KindChanOutbound:
		return &ChanOutbound{baseChan: base}
	case plan.KindChanInbound:
		return &ChanInbound{baseChan: base}
	case plan.KindChanSnoop:
		return &ChanSnoop{baseChan: base}
	case plan.KindChanEmedia:
		return &ChanEmedia{baseChan: base}
	default:
		log.Printf("chan %s: unknown kind %q, using chan_outbound", base.chanID, p.Kind)
		return &ChanOutbound{baseChan: base}
	}
}

// baseChan carries what every channel variant shares: identity, the clip
// subtree and the ledger plumbing.
type baseChan struct {
	room     *Room
	client   ari.Client
	plan     *plan.Node
	bridgeID string
	tag      string
	chanID   string

	mu        sync.Mutex
	clips     map[string]*Clip
	destroyed bool
}

func newBaseChan(r *Room, bridgeID string, p *plan.Node) *baseChan {
	return &baseChan{
		room:     r,
		client:   r.client,
		plan:     p,
		bridgeID: bridgeID,
		tag:      p.Tag,
		chanID:   p.Tag + correlator.IDDelimiter + r.callID,
		clips:    make(map[string]*Clip),
	}
}

func (c *baseChan) Tag() string    { return c.tag }
func (c *baseChan) ChanID() string { return c.chanID }

func (c *baseChan) record(status, value string) {
	c.room.AddTagStatus(c.tag, status, value)
}

// fail records the error status and the terminal stop for this channel's
// subtree.
func (c *baseChan) fail(status, value string) {
	c.record(status, value)
	c.record(StatusStop, "")
}

// Destroy hangs up the remote channel. Idempotent.
func (c *baseChan) Destroy(ctx context.Context) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	log.Printf("chan %s: destroy", c.chanID)
	resp, err := c.client.DeleteChannel(ctx, c.chanID, 16)
	c.room.recordOnly(c.tag, "api_delete_chan", statusCode(resp, err))
}

// CheckTriggers evaluates clip slots (terminate before start), then clip
// and channel invoke functions.
func (c *baseChan) CheckTriggers(ctx context.Context) {
	for _, clp := range c.plan.Children {
		existing := c.clip(clp.Tag)
		if existing == nil {
			continue
		}
		for _, trg := range clp.Triggers {
			if trg.Action != plan.ActionTerminate || !trg.Active || !c.room.ledger.Has(trg.Tag, trg.Status) {
				continue
			}
			trg.Active = false
			clip := existing
			c.room.exec(func() { clip.Stop(ctx) })
		}
	}

	for _, clp := range c.plan.Children {
		if c.clip(clp.Tag) != nil {
			continue
		}
		for _, trg := range clp.Triggers {
			if trg.Action != plan.ActionStart || !trg.Active || !c.room.ledger.Has(trg.Tag, trg.Status) {
				continue
			}
			trg.Active = false
			clip := newClip(c.room, c.chanID, clp)
			c.addClip(clip)
			c.room.applyLocal(ctx, statusUpdate{tag: clp.Tag, status: clp.Status, value: clip.clipID})
			c.room.exec(func() { clip.Start(ctx) })
		}
	}

	for _, clip := range c.clipSnapshot() {
		c.room.fireInvokeTriggers(ctx, clip.plan, clip.invokeFuncs())
	}
	c.room.fireInvokeTriggers(ctx, c.plan, c.invokeFuncs())
}

func (c *baseChan) invokeFuncs() map[string]invokeFunc {
	return map[string]invokeFunc{
		"collect_hangup_cause": c.collectHangupCause,
		"collect_channel_var":  c.collectChannelVar,
		"publish_lifecycle": func(ctx context.Context, trg *plan.Trigger) {
			value, _ := c.room.ledger.Value(trg.Tag, trg.Status)
			c.room.publishLifecycle(ctx, c.tag, trg.Status, value)
		},
	}
}

// collectHangupCause resolves the ChannelDestroyed cause code recorded
// for this channel into a named hangup cause.
func (c *baseChan) collectHangupCause(_ context.Context, _ *plan.Trigger) {
	raw, ok := c.room.ledger.Value(c.tag, "ChannelDestroyed")
	if !ok {
		log.Printf("chan %s: no ChannelDestroyed record for hangup cause", c.chanID)
		return
	}
	// Value format is "<cause_txt>#<code>".
	idx := strings.LastIndex(raw, "#")
	if idx < 0 {
		log.Printf("chan %s: unparseable hangup cause %q", c.chanID, raw)
		return
	}
	code, err := strconv.Atoi(raw[idx+1:])
	if err != nil {
		log.Printf("chan %s: unparseable hangup cause code %q", c.chanID, raw)
		return
	}
	info, ok := HangupCause[code]
	if !ok {
		info = HangupCause[0]
	}
	c.record("hangup_cause", info.Name+"#"+strconv.Itoa(code))
}

// collectChannelVar reads the channel variable named by the plan's
// channel_var param and records its value into the ledger.
func (c *baseChan) collectChannelVar(ctx context.Context, _ *plan.Trigger) {
	name := c.plan.Params["channel_var"]
	if name == "" {
		log.Printf("chan %s: no channel_var param to collect", c.chanID)
		return
	}
	resp, err := c.client.GetChannelVar(ctx, c.chanID, name)
	if err != nil || !resp.Success {
		c.record("error_get_var", statusCode(resp, err))
		return
	}
	value, _ := resp.Body["value"].(string)
	c.record("channel_var#"+name, value)
}

// joinBridge subscribes to the channel's events and places it into the
// owning bridge. Shared by every variant after a successful create.
func (c *baseChan) joinBridge(ctx context.Context) {
	if _, err := c.client.Subscribe(ctx, "channel:"+c.chanID); err != nil {
		log.Printf("chan %s: subscribe: %v", c.chanID, err)
	}
	resp, err := c.client.AddChannelToBridge(ctx, c.bridgeID, c.chanID)
	c.record("api_chan2bridge", statusCode(resp, err))
}

func (c *baseChan) addClip(clip *Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clips[clip.tag] = clip
}

func (c *baseChan) clip(tag string) *Clip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clips[tag]
}

func (c *baseChan) clipSnapshot() []*Clip {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Clip, 0, len(c.clips))
	for _, clip := range c.clips {
		out = append(out, clip)
	}
	return out
}
