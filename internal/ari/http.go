package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/asterisk-callflow/internal/metrics"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
	retryBackoff    = 500 * time.Millisecond
)

// HTTPClient is the REST implementation of Client. Each request gets a
// bounded timeout and a bounded number of retries: one immediate retry,
// then increasing backoff.
type HTTPClient struct {
	baseURL  string
	app      string
	username string
	password string
	hc       *http.Client
	attempts int
}

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	BaseURL  string // e.g. http://127.0.0.1:8088/ari
	App      string
	Username string
	Password string
	Timeout  time.Duration
	Attempts int
}

func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Attempts == 0 {
		opts.Attempts = defaultAttempts
	}
	return &HTTPClient{
		baseURL:  opts.BaseURL,
		app:      opts.App,
		username: opts.Username,
		password: opts.Password,
		hc:       &http.Client{Timeout: opts.Timeout},
		attempts: opts.Attempts,
	}
}

var _ Client = (*HTTPClient)(nil)

// send issues one ARI request, retrying transport failures. Asterisk
// responses come back as-is: a 4xx/5xx is an answer, not a retry case.
func (c *HTTPClient) send(ctx context.Context, method, path string, body map[string]any) (Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("encoding request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 1 {
			// First retry is immediate, the rest back off.
			wait := time.Duration(attempt-1) * retryBackoff
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}

		resp, err := c.do(ctx, method, path, payload)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			log.Printf("ari: %s %s attempt %d failed: %v", method, path, attempt+1, err)
			continue
		}
		metrics.ARIRequests.WithLabelValues(outcome(resp.HTTPCode)).Inc()
		return resp, nil
	}

	metrics.ARIRequests.WithLabelValues("transport_error").Inc()
	return Response{Message: lastErr.Error()}, fmt.Errorf("ari: %s %s: %w", method, path, lastErr)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	out := Response{
		HTTPCode: resp.StatusCode,
		Success:  resp.StatusCode >= 200 && resp.StatusCode < 300,
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}
	if len(data) > 0 {
		var body map[string]any
		if json.Unmarshal(data, &body) == nil {
			out.Body = body
			if msg, ok := body["message"].(string); ok {
				out.Message = msg
			}
		}
	}
	if !out.Success && out.Message == "" {
		out.Message = resp.Status
	}
	return out, nil
}

func outcome(code int) string {
	if code >= 200 && code < 300 {
		return "success"
	}
	return "http_" + strconv.Itoa(code)
}

func (c *HTTPClient) CreateBridge(ctx context.Context, bridgeID string) (Response, error) {
	return c.send(ctx, http.MethodPost, "/bridges", map[string]any{
		"type":     "mixing",
		"bridgeId": bridgeID,
		"name":     bridgeID,
	})
}

// DestroyBridge tears down the bridge and any channels still in it. The
// channel sweep keeps destruction cascading the way the live tree does.
func (c *HTTPClient) DestroyBridge(ctx context.Context, bridgeID string) (Response, error) {
	detail, err := c.GetBridge(ctx, bridgeID)
	if err != nil {
		return detail, err
	}
	if detail.HTTPCode == http.StatusNotFound {
		// Already gone; destroying twice is a no-op.
		return detail, nil
	}
	if detail.Success {
		if chans, ok := detail.Body["channels"].([]any); ok {
			for _, ch := range chans {
				if id, ok := ch.(string); ok {
					if _, err := c.DeleteChannel(ctx, id, 21); err != nil {
						log.Printf("ari: deleting channel %s of bridge %s: %v", id, bridgeID, err)
					}
				}
			}
		}
	}
	return c.send(ctx, http.MethodDelete, "/bridges/"+bridgeID, nil)
}

func (c *HTTPClient) GetBridge(ctx context.Context, bridgeID string) (Response, error) {
	return c.send(ctx, http.MethodGet, "/bridges/"+bridgeID, nil)
}

func (c *HTTPClient) CreateChannel(ctx context.Context, chanID, endpoint, callerID string) (Response, error) {
	return c.send(ctx, http.MethodPost, "/channels/create", map[string]any{
		"channelId": chanID,
		"endpoint":  endpoint,
		"app":       c.app,
		"variables": map[string]string{
			"CALLERID(num)":  callerID,
			"CALLERID(name)": callerID,
			"CONNECTED(num)": callerID,
		},
	})
}

func (c *HTTPClient) CreateSnoopChannel(ctx context.Context, targetChanID, snoopID string) (Response, error) {
	return c.send(ctx, http.MethodPost, "/channels/"+targetChanID+"/snoop", map[string]any{
		"spy":     "in",
		"whisper": "none",
		"app":     c.app,
		"snoopId": snoopID,
	})
}

func (c *HTTPClient) CreateExternalMediaChannel(ctx context.Context, chanID, externalHost string) (Response, error) {
	return c.send(ctx, http.MethodPost, "/channels/externalMedia", map[string]any{
		"channelId":     chanID,
		"app":           c.app,
		"external_host": externalHost,
		"format":        "slin16",
	})
}

func (c *HTTPClient) AddChannelToBridge(ctx context.Context, bridgeID, chanID string) (Response, error) {
	return c.send(ctx, http.MethodPost, "/bridges/"+bridgeID+"/addChannel", map[string]any{
		"channel": chanID,
	})
}

func (c *HTTPClient) DialChannel(ctx context.Context, chanID string, timeoutSeconds int) (Response, error) {
	return c.send(ctx, http.MethodPost, "/channels/"+chanID+"/dial", map[string]any{
		"timeout": timeoutSeconds,
	})
}

func (c *HTTPClient) DeleteChannel(ctx context.Context, chanID string, reasonCode int) (Response, error) {
	return c.send(ctx, http.MethodDelete, "/channels/"+chanID, map[string]any{
		"reason_code": strconv.Itoa(reasonCode),
	})
}

func (c *HTTPClient) GetChannelVar(ctx context.Context, chanID, name string) (Response, error) {
	return c.send(ctx, http.MethodGet, "/channels/"+chanID+"/variable?variable="+name, nil)
}

func (c *HTTPClient) StartChannelPlayback(ctx context.Context, chanID, playbackID, media string) (Response, error) {
	return c.send(ctx, http.MethodPost, "/channels/"+chanID+"/play", map[string]any{
		"media":      media,
		"lang":       "en",
		"playbackId": playbackID,
	})
}

func (c *HTTPClient) StartBridgePlayback(ctx context.Context, bridgeID, playbackID, media string) (Response, error) {
	return c.send(ctx, http.MethodPost, "/bridges/"+bridgeID+"/play", map[string]any{
		"media":      media,
		"lang":       "en",
		"playbackId": playbackID,
	})
}

func (c *HTTPClient) StopPlayback(ctx context.Context, playbackID string) (Response, error) {
	return c.send(ctx, http.MethodDelete, "/playbacks/"+playbackID, nil)
}

func (c *HTTPClient) Subscribe(ctx context.Context, eventSource string) (Response, error) {
	return c.send(ctx, http.MethodPost, "/applications/"+c.app+"/subscription", map[string]any{
		"eventSource": eventSource,
	})
}
