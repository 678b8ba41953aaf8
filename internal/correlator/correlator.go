// Package correlator normalises raw ARI notifications into TriggerEvents.
// The owning call id is carved out of the remote resource id, which every
// node derives as "<tag>-call-<callID>"; events whose resource id lacks
// the delimiter belong to no tracked call and are dropped.
package correlator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// IDDelimiter joins a node tag and its owning call id into a remote
// resource id.
const IDDelimiter = "-call-"

// ErrNoCallID marks an event whose resource id carries no call id. Such
// events are dropped, never queued.
var ErrNoCallID = errors.New("no call id in event")

// ErrDenied marks an event filtered out by the deny lists.
var ErrDenied = errors.New("event type denied")

// Event types whose notifications are operationally noisy and never
// correlated.
var deniedEventTypes = map[string]bool{
	"ChannelDialplan": true,
}

// Derived statuses filtered after correlation (privacy-sensitive or
// high-volume variable churn).
var deniedStatuses = map[string]bool{
	"ChannelVarset#SIPCALLID": true,
}

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Correlator turns raw ARI payloads into TriggerEvents.
type Correlator struct {
	clock Clock
}

func New() *Correlator {
	return &Correlator{clock: time.Now}
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock sets the time source for the correlator.
func WithClock(c Clock) Option {
	return func(corr *Correlator) { corr.clock = c }
}

// NewWithOptions creates a Correlator with the given options.
func NewWithOptions(opts ...Option) *Correlator {
	c := New()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Correlate decodes a raw ARI payload and maps it onto the owning call.
// Returns ErrNoCallID for uncorrelatable events and ErrDenied for
// filtered ones; both are expected outcomes, not failures.
func (c *Correlator) Correlate(data []byte) (TriggerEvent, error) {
	var raw RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return TriggerEvent{}, fmt.Errorf("decoding event: %w", err)
	}
	return c.CorrelateRaw(raw)
}

// CorrelateRaw maps an already-decoded event.
func (c *Correlator) CorrelateRaw(raw RawEvent) (TriggerEvent, error) {
	if deniedEventTypes[raw.Type] {
		return TriggerEvent{}, fmt.Errorf("%w: %s", ErrDenied, raw.Type)
	}

	tag, callID, ok := routing(raw)
	if !ok {
		return TriggerEvent{}, fmt.Errorf("%w: type=%s", ErrNoCallID, raw.Type)
	}

	now := c.clock()
	externalTime := parseTimestamp(raw.Timestamp)

	ev := TriggerEvent{
		App:             raw.Application,
		AsteriskID:      raw.AsteriskID,
		EventType:       raw.Type,
		Tag:             tag,
		CallID:          callID,
		Status:          statusOf(raw),
		Value:           valueOf(raw),
		ExternalTime:    externalTime,
		CorrelationTime: now,
	}
	if !externalTime.IsZero() {
		ev.Delay = now.Sub(externalTime).Seconds()
	}

	if deniedStatuses[ev.Status] {
		return TriggerEvent{}, fmt.Errorf("%w: %s", ErrDenied, ev.Status)
	}
	return ev, nil
}

// routing extracts the tag and call id for the event, dispatching on the
// event type to find which resource id carries them.
func routing(raw RawEvent) (tag, callID string, ok bool) {
	if raw.Type == "ExternalEvent" {
		if raw.CallID == "" {
			return "", "", false
		}
		return raw.Tag, raw.CallID, true
	}

	var id string
	switch raw.Type {
	case "ChannelCreated", "ChannelVarset", "ChannelDtmfReceived",
		"ChannelStateChange", "ChannelDestroyed", "ChannelHangupRequest",
		"StasisStart", "StasisEnd":
		if raw.Channel != nil {
			id = raw.Channel.ID
		}
	case "Dial":
		if raw.Peer != nil {
			id = raw.Peer.ID
		}
	case "BridgeCreated", "BridgeDestroyed", "ChannelEnteredBridge", "ChannelLeftBridge":
		if raw.Bridge != nil {
			id = raw.Bridge.ID
		}
	case "PlaybackStarted", "PlaybackFinished":
		if raw.Playback != nil {
			id = raw.Playback.ID
		}
	default:
		return "", "", false
	}

	return SplitResourceID(id)
}

// SplitResourceID splits "<tag>-call-<callID>" into its parts.
func SplitResourceID(id string) (tag, callID string, ok bool) {
	before, after, found := strings.Cut(id, IDDelimiter)
	if !found || before == "" || after == "" {
		return "", "", false
	}
	return before, after, true
}

// statusOf canonicalises the event into a status string. Composite
// statuses like "ChannelVarset#<name>" let plan triggers watch a specific
// variable or digit without bespoke trigger types.
func statusOf(raw RawEvent) string {
	switch raw.Type {
	case "ExternalEvent":
		return raw.Status
	case "ChannelStateChange":
		if raw.Channel != nil {
			return fmt.Sprintf("%s#%s", raw.Type, raw.Channel.State)
		}
	case "Dial":
		if raw.DialStatus != "" {
			return fmt.Sprintf("%s#%s", raw.Type, raw.DialStatus)
		}
	case "ChannelEnteredBridge", "ChannelLeftBridge":
		if raw.Channel != nil {
			return fmt.Sprintf("%s#%s", raw.Type, raw.Channel.ID)
		}
	case "ChannelVarset":
		return fmt.Sprintf("%s#%s", raw.Type, raw.Variable)
	case "ChannelDtmfReceived":
		return fmt.Sprintf("%s#%s", raw.Type, raw.Digit)
	}
	return raw.Type
}

func valueOf(raw RawEvent) string {
	switch raw.Type {
	case "ExternalEvent", "ChannelVarset":
		return raw.Value
	case "ChannelDtmfReceived":
		return raw.Digit
	case "ChannelStateChange":
		if raw.Channel != nil {
			return raw.Channel.Name
		}
	case "ChannelHangupRequest":
		return fmt.Sprintf("%d", raw.Cause)
	case "ChannelDestroyed":
		return fmt.Sprintf("%s#%d", raw.CauseTxt, raw.Cause)
	case "Dial":
		return raw.DialString
	case "PlaybackStarted":
		if raw.Playback != nil {
			return raw.Playback.MediaURI
		}
	case "PlaybackFinished":
		if raw.Playback != nil {
			return raw.Playback.State
		}
	}
	return ""
}

// Asterisk timestamps arrive as "2023-05-16T00:33:52.951+0300"; accept
// the common variants and fall back to a zero time.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
