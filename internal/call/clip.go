package call

import (
	"context"
	"log"
	"sync"

	"github.com/sweeney/asterisk-callflow/internal/ari"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/plan"
)

// Clip plays one media file on its owning channel or bridge.
type Clip struct {
	room   *Room
	client ari.Client
	plan   *plan.Node

	targetID string
	onBridge bool
	tag      string
	clipID   string

	mu      sync.Mutex
	stopped bool
}

func newClip(r *Room, chanID string, p *plan.Node) *Clip {
	return &Clip{
		room:     r,
		client:   r.client,
		plan:     p,
		targetID: chanID,
		tag:      p.Tag,
		clipID:   p.Tag + correlator.IDDelimiter + r.callID,
	}
}

// newBridgeClip plays into the whole bridge instead of one leg, e.g.
// hold music while a second leg is still dialing.
func newBridgeClip(r *Room, bridgeID string, p *plan.Node) *Clip {
	c := newClip(r, bridgeID, p)
	c.onBridge = true
	return c
}

func (c *Clip) Start(ctx context.Context) {
	log.Printf("clip %s: start", c.clipID)

	audio := c.plan.Params["audio_name"]
	if audio == "" {
		c.room.AddTagStatus(c.tag, "error_in_audio_name", "")
		return
	}

	var (
		resp ari.Response
		err  error
	)
	if c.onBridge {
		resp, err = c.client.StartBridgePlayback(ctx, c.targetID, c.clipID, "sound:"+audio)
	} else {
		resp, err = c.client.StartChannelPlayback(ctx, c.targetID, c.clipID, "sound:"+audio)
	}
	c.room.AddTagStatus(c.tag, "api_start_playback", statusCode(resp, err))
}

// Stop halts the playback. Idempotent: a second call does nothing.
func (c *Clip) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	log.Printf("clip %s: stop", c.clipID)
	resp, err := c.client.StopPlayback(ctx, c.clipID)
	c.room.AddTagStatus(c.tag, "api_stop_playback", statusCode(resp, err))
}

// FullyPlayed is derived, not asserted: the playback finished, did not
// fail and was never explicitly stopped.
func (c *Clip) FullyPlayed() bool {
	value, ok := c.room.ledger.Value(c.tag, "PlaybackFinished")
	if !ok || value == "failed" {
		return false
	}
	return !c.room.ledger.Has(c.tag, "api_stop_playback")
}

func (c *Clip) invokeFuncs() map[string]invokeFunc {
	return map[string]invokeFunc{
		"check_fully_playback": func(ctx context.Context, _ *plan.Trigger) {
			if c.FullyPlayed() {
				c.room.AddTagStatus(c.tag, "fully_playback", "True")
			}
		},
		"publish_lifecycle": func(ctx context.Context, trg *plan.Trigger) {
			value, _ := c.room.ledger.Value(trg.Tag, trg.Status)
			c.room.publishLifecycle(ctx, c.tag, trg.Status, value)
		},
	}
}
