package call

import (
	"context"
	"log"
)

// ChanEmedia bridges the call audio to an external host for analysis.
type ChanEmedia struct {
	*baseChan
}

func (c *ChanEmedia) Start(ctx context.Context) {
	log.Printf("chan %s: start external media", c.chanID)

	host := c.plan.Params["external_host"]
	if host == "" {
		derr := &DialplanError{Tag: c.tag, Reason: "external media chan has no external_host param"}
		log.Printf("chan %s: %v", c.chanID, derr)
		c.fail("dialplan_error", derr.Error())
		return
	}

	resp, err := c.client.CreateExternalMediaChannel(ctx, c.chanID, host)
	c.record("api_create_chan", statusCode(resp, err))
	if err != nil || !resp.Success {
		c.fail("error_create_chan", resp.Message)
		return
	}

	c.joinBridge(ctx)
}
