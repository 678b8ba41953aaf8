package correlator

import "time"

// ResourceRef is the slice of an ARI resource object the correlator
// needs: its id plus a couple of type-specific fields.
type ResourceRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// PlaybackRef mirrors the ARI playback object.
type PlaybackRef struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri"`
	State    string `json:"state"`
}

// RawEvent is a decoded ARI notification before correlation. Only the
// fields the correlator reads are declared; the rest of the payload is
// dropped on unmarshal.
type RawEvent struct {
	Type        string       `json:"type"`
	Application string       `json:"application"`
	AsteriskID  string       `json:"asterisk_id"`
	Timestamp   string       `json:"timestamp"`
	Channel     *ResourceRef `json:"channel"`
	Peer        *ResourceRef `json:"peer"`
	Bridge      *ResourceRef `json:"bridge"`
	Playback    *PlaybackRef `json:"playback"`
	Variable    string       `json:"variable"`
	Value       string       `json:"value"`
	Digit       string       `json:"digit"`
	Cause       int          `json:"cause"`
	CauseTxt    string       `json:"cause_txt"`
	DialStatus  string       `json:"dialstatus"`
	DialString  string       `json:"dialstring"`

	// ExternalEvent carries routing fields explicitly instead of
	// encoding them in a resource id.
	Tag    string `json:"tag"`
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// TriggerEvent is the canonical internal form of a notification: which
// call it belongs to, which tag it concerns and which status it sets.
// Immutable once constructed.
type TriggerEvent struct {
	App             string
	AsteriskID      string
	EventType       string
	Tag             string
	CallID          string
	Status          string
	Value           string
	ExternalTime    time.Time
	CorrelationTime time.Time

	// Delay is CorrelationTime minus ExternalTime in seconds. Negative
	// values happen under clock skew and are not an error.
	Delay float64
}

// EventTypeAPI marks synthetic events injected by the control API rather
// than received from Asterisk.
const EventTypeAPI = "API_EVENT"
