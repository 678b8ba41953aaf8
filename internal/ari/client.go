// Package ari speaks the Asterisk REST Interface: resource control over
// HTTP and the event stream over WebSocket. The connection is a
// process-wide shared resource; resource nodes issue requests through the
// Client interface and never manage its lifecycle.
package ari

import (
	"context"
	"fmt"
)

// Response is the uniform result of every ARI call.
type Response struct {
	HTTPCode int
	Success  bool
	Message  string
	Body     map[string]any
}

// RemoteError reports a non-success ARI result when a caller needs it as
// an error value rather than a recorded status.
type RemoteError struct {
	HTTPCode int
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ari: http %d: %s", e.HTTPCode, e.Message)
}

// Client is the set of ARI operations the orchestrator uses. A returned
// error means the transport gave up after retries; a Response with
// Success=false means Asterisk answered with a non-2xx code.
type Client interface {
	CreateBridge(ctx context.Context, bridgeID string) (Response, error)
	DestroyBridge(ctx context.Context, bridgeID string) (Response, error)
	GetBridge(ctx context.Context, bridgeID string) (Response, error)

	CreateChannel(ctx context.Context, chanID, endpoint, callerID string) (Response, error)
	CreateSnoopChannel(ctx context.Context, targetChanID, snoopID string) (Response, error)
	CreateExternalMediaChannel(ctx context.Context, chanID, externalHost string) (Response, error)
	AddChannelToBridge(ctx context.Context, bridgeID, chanID string) (Response, error)
	DialChannel(ctx context.Context, chanID string, timeoutSeconds int) (Response, error)
	DeleteChannel(ctx context.Context, chanID string, reasonCode int) (Response, error)
	GetChannelVar(ctx context.Context, chanID, name string) (Response, error)

	StartChannelPlayback(ctx context.Context, chanID, playbackID, media string) (Response, error)
	StartBridgePlayback(ctx context.Context, bridgeID, playbackID, media string) (Response, error)
	StopPlayback(ctx context.Context, playbackID string) (Response, error)

	Subscribe(ctx context.Context, eventSource string) (Response, error)
}
