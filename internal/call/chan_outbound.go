package call

import (
	"context"
	"fmt"
	"log"
)

// ChanOutbound dials an endpoint resolved from the lead's dial-option
// table.
type ChanOutbound struct {
	*baseChan
}

func (c *ChanOutbound) Start(ctx context.Context) {
	log.Printf("chan %s: start outbound", c.chanID)

	name := c.plan.Params["dial_option_name"]
	opt, ok := c.room.lead.DialOptions[name]
	if !ok {
		derr := &DialplanError{Tag: c.tag, Reason: fmt.Sprintf("no dial option %q for lead", name)}
		log.Printf("chan %s: %v", c.chanID, derr)
		c.fail("dialplan_error", derr.Error())
		return
	}

	endpoint := fmt.Sprintf("SIP/%s/%s%s", opt.Gate, opt.PhonePrefix, opt.Phone)
	resp, err := c.client.CreateChannel(ctx, c.chanID, endpoint, opt.CallerID)
	c.record("api_create_chan", statusCode(resp, err))
	if err != nil || !resp.Success {
		c.fail("error_create_chan", resp.Message)
		return
	}

	c.joinBridge(ctx)

	dialResp, err := c.client.DialChannel(ctx, c.chanID, opt.DialTimeout)
	c.record("api_dial_chan", statusCode(dialResp, err))
}
