package call

import (
	"context"
	"log"
)

// ChanInbound answers a PBX-originated channel: the endpoint to reach
// comes straight from the plan params rather than the lead.
type ChanInbound struct {
	*baseChan
}

func (c *ChanInbound) Start(ctx context.Context) {
	log.Printf("chan %s: start inbound", c.chanID)

	endpoint := c.plan.Params["endpoint"]
	if endpoint == "" {
		derr := &DialplanError{Tag: c.tag, Reason: "inbound chan has no endpoint param"}
		log.Printf("chan %s: %v", c.chanID, derr)
		c.fail("dialplan_error", derr.Error())
		return
	}

	resp, err := c.client.CreateChannel(ctx, c.chanID, endpoint, c.plan.Params["callerid"])
	c.record("api_create_chan", statusCode(resp, err))
	if err != nil || !resp.Success {
		c.fail("error_create_chan", resp.Message)
		return
	}

	c.joinBridge(ctx)

	dialResp, err := c.client.DialChannel(ctx, c.chanID, 60)
	c.record("api_dial_chan", statusCode(dialResp, err))
}
