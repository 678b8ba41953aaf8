package call

import (
	"context"
	"fmt"
	"log"

	"github.com/sweeney/asterisk-callflow/internal/correlator"
)

// ChanSnoop spies on a sibling channel identified by tag. The target
// must already have appeared in the ledger, otherwise there is nothing
// to snoop on.
type ChanSnoop struct {
	*baseChan
}

func (c *ChanSnoop) Start(ctx context.Context) {
	log.Printf("chan %s: start snoop", c.chanID)

	targetTag := c.plan.Params["target_chan_tag"]
	if targetTag == "" || !c.room.ledger.HasTag(targetTag) {
		derr := &DialplanError{Tag: c.tag, Reason: fmt.Sprintf("snoop target tag %q not found in ledger", targetTag)}
		log.Printf("chan %s: %v", c.chanID, derr)
		c.fail("dialplan_error", derr.Error())
		return
	}

	targetChanID := targetTag + correlator.IDDelimiter + c.room.callID
	resp, err := c.client.CreateSnoopChannel(ctx, targetChanID, c.chanID)
	c.record("api_create_chan", statusCode(resp, err))
	if err != nil || !resp.Success {
		c.fail("error_create_chan", resp.Message)
		return
	}

	c.joinBridge(ctx)
}
