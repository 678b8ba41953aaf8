package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/asterisk-callflow/internal/ari"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/plan"
	"github.com/sweeney/asterisk-callflow/internal/publisher"
)

const testPlan = `{
  "name": "test flow",
  "tag": "room",
  "type": "room",
  "triggers": [
    {"trigger_tag": "client", "trigger_status": "ChannelDestroyed", "action": "terminate"}
  ],
  "content": [
    {
      "tag": "bridge_main",
      "type": "bridge",
      "triggers": [
        {"trigger_tag": "room", "trigger_status": "ready", "action": "start"}
      ],
      "content": [
        {
          "tag": "oper",
          "type": "chan_outbound",
          "params": {"dial_option_name": "intphone"},
          "triggers": [
            {"trigger_tag": "bridge_main", "trigger_status": "api_create_bridge", "action": "start"}
          ]
        },
        {
          "tag": "client",
          "type": "chan_outbound",
          "params": {"dial_option_name": "extphone"},
          "triggers": [
            {"trigger_tag": "oper", "trigger_status": "ChannelStateChange#Up", "action": "start"},
            {"trigger_tag": "client", "trigger_status": "ChannelDestroyed", "action": "func", "func": "collect_hangup_cause"}
          ],
          "content": [
            {
              "tag": "hello",
              "type": "clip",
              "params": {"audio_name": "hello-world"},
              "triggers": [
                {"trigger_tag": "client", "trigger_status": "ChannelStateChange#Up", "action": "start"},
                {"trigger_tag": "hello", "trigger_status": "PlaybackFinished", "action": "func", "func": "check_fully_playback"}
              ]
            }
          ]
        }
      ]
    }
  ]
}`

type roomFixture struct {
	room   *Room
	client *ari.MockClient
	pub    *publisher.MockPublisher
	ctx    context.Context
}

// newRoomFixture builds a room whose side effects run inline, so every
// cascade finishes before the test continues.
func newRoomFixture(t *testing.T, planJSON string) *roomFixture {
	t.Helper()

	p, err := plan.Load([]byte(planJSON))
	if err != nil {
		t.Fatalf("loading plan: %v", err)
	}

	lead := NewLead("42", "test")
	lead.AddDialOption("intphone", DialOption{Gate: "gw", DialTimeout: 30, Phone: "100", CallerID: "100"})
	lead.AddDialOption("extphone", DialOption{Gate: "gw", DialTimeout: 30, PhonePrefix: "8", Phone: "5550001234", CallerID: "100"})

	f := &roomFixture{
		client: ari.NewMockClient(),
		pub:    publisher.NewMockPublisher(),
		ctx:    context.Background(),
	}
	f.room = NewRoom(f.client, f.pub, lead, p)
	f.room.exec = func(fn func()) { fn() }
	return f
}

// boot records the initial status and the readiness transition, then
// drains the cascade, standing in for the pump goroutine.
func (f *roomFixture) boot() {
	f.room.applyLocal(f.ctx, statusUpdate{tag: f.room.tag, status: f.room.plan.Status, value: f.room.roomID})
	f.room.Start()
	f.drain()
}

func (f *roomFixture) drain() {
	for {
		select {
		case u := <-f.room.queue:
			f.room.applyLocal(f.ctx, u)
		default:
			return
		}
	}
}

func (f *roomFixture) event(tag, status, value string) {
	f.room.HandleEvent(correlator.TriggerEvent{Tag: tag, CallID: f.room.callID, Status: status, Value: value})
	f.drain()
}

func TestReadyStartsBridgeAndFirstChannel(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.boot()

	creates := f.client.CallsTo("CreateBridge")
	if len(creates) != 1 {
		t.Fatalf("CreateBridge calls = %d, want 1", len(creates))
	}
	if creates[0].ID != "bridge_main-call-X42" {
		t.Errorf("bridge id = %q", creates[0].ID)
	}

	chans := f.client.CallsTo("CreateChannel")
	if len(chans) != 1 {
		t.Fatalf("CreateChannel calls = %d, want 1", len(chans))
	}
	if chans[0].ID != "oper-call-X42" {
		t.Errorf("chan id = %q", chans[0].ID)
	}
	if chans[0].Args[0] != "SIP/gw/100" {
		t.Errorf("endpoint = %q, want SIP/gw/100", chans[0].Args[0])
	}

	if len(f.client.CallsTo("AddChannelToBridge")) != 1 {
		t.Error("expected the operator leg to be bridged")
	}
	if len(f.client.CallsTo("DialChannel")) != 1 {
		t.Error("expected the operator leg to be dialled")
	}
	if !f.room.ledger.Has("bridge_main", "api_create_bridge") {
		t.Error("missing api_create_bridge record")
	}
	if !f.room.ledger.Has("oper", "api_create_chan") {
		t.Error("missing api_create_chan record")
	}
}

func TestTriggerFiresAtMostOnce(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.boot()

	// A repeat of the watched status is a rewrite; the trigger already
	// flipped and must not act again.
	f.room.AddTagStatus("room", StatusReady, "")
	f.drain()

	if got := len(f.client.CallsTo("CreateBridge")); got != 1 {
		t.Errorf("CreateBridge calls = %d, want 1", got)
	}
}

func TestSecondLegStartsOnAnswer(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.boot()

	f.event("oper", "ChannelStateChange#Up", "SIP/gw-0001")

	chans := f.client.CallsTo("CreateChannel")
	if len(chans) != 2 {
		t.Fatalf("CreateChannel calls = %d, want 2", len(chans))
	}
	if chans[1].ID != "client-call-X42" {
		t.Errorf("second chan id = %q", chans[1].ID)
	}
	if chans[1].Args[0] != "SIP/gw/85550001234" {
		t.Errorf("endpoint = %q, want prefixed number", chans[1].Args[0])
	}
}

func TestChanCreateFailureStopsSubtree(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.client.SetError("CreateChannel", errors.New("allocation failed"))
	f.boot()

	if !f.room.ledger.Has("oper", "api_create_chan") {
		t.Error("missing api_create_chan record for the failed attempt")
	}
	if !f.room.ledger.Has("oper", "error_create_chan") {
		t.Error("missing error_create_chan record")
	}
	if !f.room.ledger.Has("oper", StatusStop) {
		t.Error("failed channel should record stop")
	}
	if got := len(f.client.CallsTo("AddChannelToBridge")); got != 0 {
		t.Errorf("AddChannelToBridge calls = %d, failed chan must never be bridged", got)
	}
	if got := f.room.ChannelIDs(); len(got) != 0 {
		t.Errorf("live channels = %v, want none", got)
	}
	if f.room.Stopped() {
		t.Error("one failed subtree must not stop the room")
	}
}

func TestBridgeCreateFailureStopsSubtree(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.client.SetResponse("CreateBridge", ari.Response{HTTPCode: 409, Success: false, Message: "Bridge already exists"})
	f.boot()

	value, ok := f.room.ledger.Value("bridge_main", "api_create_bridge")
	if !ok || value != "409" {
		t.Errorf("api_create_bridge = %q, %t, want the failure code", value, ok)
	}
	if !f.room.ledger.Has("bridge_main", "error_create_bridge") {
		t.Error("missing error_create_bridge record")
	}
	if !f.room.ledger.Has("bridge_main", StatusStop) {
		t.Error("failed bridge should record stop")
	}
	if got := f.room.BridgeIDs(); len(got) != 0 {
		t.Errorf("live bridges = %v, want the failed bridge pruned", got)
	}
	if f.room.Stopped() {
		t.Error("one failed subtree must not stop the room")
	}
}

func TestHangupCascade(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.boot()
	f.event("oper", "ChannelStateChange#Up", "")

	f.event("client", "ChannelDestroyed", "Normal Clearing#16")

	if !f.room.Stopped() {
		t.Fatal("room should stop on client ChannelDestroyed")
	}

	value, ok := f.room.ledger.Value("client", "hangup_cause")
	if !ok {
		t.Fatal("missing hangup_cause record")
	}
	if value != "normal_clearing#16" {
		t.Errorf("hangup_cause = %q, want normal_clearing#16", value)
	}

	var sawStop bool
	for _, ev := range f.pub.Events() {
		if ev.Tag == "room" && ev.Status == StatusStop {
			sawStop = true
		}
	}
	if !sawStop {
		t.Error("room stop was not published")
	}
}

func TestClipPlaysAndDerivesFullPlayback(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.boot()
	f.event("oper", "ChannelStateChange#Up", "")
	f.event("client", "ChannelStateChange#Up", "")

	plays := f.client.CallsTo("StartChannelPlayback")
	if len(plays) != 1 {
		t.Fatalf("StartChannelPlayback calls = %d, want 1", len(plays))
	}
	if plays[0].ID != "hello-call-X42" {
		t.Errorf("playback id = %q", plays[0].ID)
	}
	if plays[0].Args[1] != "sound:hello-world" {
		t.Errorf("media = %q, want sound:hello-world", plays[0].Args[1])
	}

	f.event("hello", "PlaybackFinished", "done")

	value, ok := f.room.ledger.Value("hello", "fully_playback")
	if !ok {
		t.Fatal("missing fully_playback record")
	}
	if value != "True" {
		t.Errorf("fully_playback = %q, want True", value)
	}
}

func TestStoppedClipIsNotFullyPlayed(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.boot()
	f.event("oper", "ChannelStateChange#Up", "")
	f.event("client", "ChannelStateChange#Up", "")

	// An explicit stop before the finish event disqualifies the clip.
	f.room.AddTagStatus("hello", "api_stop_playback", "200")
	f.drain()
	f.event("hello", "PlaybackFinished", "done")

	if f.room.ledger.Has("hello", "fully_playback") {
		t.Error("stopped clip must not count as fully played")
	}
}

func TestBridgeClipPlaysAndStops(t *testing.T) {
	bridgeClipPlan := `{
  "tag": "room",
  "type": "room",
  "content": [
    {
      "tag": "bridge_main",
      "type": "bridge",
      "triggers": [
        {"trigger_tag": "room", "trigger_status": "ready", "action": "start"}
      ],
      "content": [
        {
          "tag": "hold_music",
          "type": "clip",
          "params": {"audio_name": "moh"},
          "triggers": [
            {"trigger_tag": "bridge_main", "trigger_status": "api_create_bridge", "action": "start"},
            {"trigger_tag": "room", "trigger_status": "moh_off", "action": "terminate"}
          ]
        }
      ]
    }
  ]
}`
	f := newRoomFixture(t, bridgeClipPlan)
	f.boot()

	plays := f.client.CallsTo("StartBridgePlayback")
	if len(plays) != 1 {
		t.Fatalf("StartBridgePlayback calls = %d, want 1", len(plays))
	}
	if plays[0].ID != "hold_music-call-X42" {
		t.Errorf("playback id = %q", plays[0].ID)
	}
	if plays[0].Args[0] != "bridge_main-call-X42" {
		t.Errorf("playback target = %q, want the bridge id", plays[0].Args[0])
	}
	if plays[0].Args[1] != "sound:moh" {
		t.Errorf("media = %q, want sound:moh", plays[0].Args[1])
	}

	f.room.AddTagStatus("room", "moh_off", "")
	f.drain()

	stops := f.client.CallsTo("StopPlayback")
	if len(stops) != 1 {
		t.Fatalf("StopPlayback calls = %d, want 1", len(stops))
	}
	if stops[0].ID != "hold_music-call-X42" {
		t.Errorf("stopped playback id = %q", stops[0].ID)
	}
}

func TestCollectChannelVar(t *testing.T) {
	varPlan := `{
  "tag": "room",
  "type": "room",
  "content": [
    {
      "tag": "bridge_main",
      "type": "bridge",
      "triggers": [
        {"trigger_tag": "room", "trigger_status": "ready", "action": "start"}
      ],
      "content": [
        {
          "tag": "oper",
          "type": "chan_outbound",
          "params": {"dial_option_name": "intphone", "channel_var": "CDR_PROP"},
          "triggers": [
            {"trigger_tag": "bridge_main", "trigger_status": "api_create_bridge", "action": "start"},
            {"trigger_tag": "oper", "trigger_status": "ChannelStateChange#Up", "action": "func", "func": "collect_channel_var"}
          ]
        }
      ]
    }
  ]
}`
	f := newRoomFixture(t, varPlan)
	f.client.SetResponse("GetChannelVar", ari.Response{
		HTTPCode: 200,
		Success:  true,
		Body:     map[string]any{"value": "party_a"},
	})
	f.boot()

	f.event("oper", "ChannelStateChange#Up", "")

	gets := f.client.CallsTo("GetChannelVar")
	if len(gets) != 1 {
		t.Fatalf("GetChannelVar calls = %d, want 1", len(gets))
	}
	if gets[0].ID != "oper-call-X42" {
		t.Errorf("chan id = %q", gets[0].ID)
	}
	if gets[0].Args[0] != "CDR_PROP" {
		t.Errorf("variable = %q, want CDR_PROP", gets[0].Args[0])
	}

	value, ok := f.room.ledger.Value("oper", "channel_var#CDR_PROP")
	if !ok {
		t.Fatal("missing channel_var#CDR_PROP record")
	}
	if value != "party_a" {
		t.Errorf("channel_var#CDR_PROP = %q, want party_a", value)
	}
}

func TestDestroyStopsPump(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.room.Run(ctx)

	f.room.Destroy(f.ctx)

	select {
	case <-f.room.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump still running after Destroy")
	}
}

func TestStartHonoursRoomStartTrigger(t *testing.T) {
	gated := `{
  "tag": "room",
  "type": "room",
  "triggers": [
    {"trigger_tag": "ext", "trigger_status": "go", "action": "start"}
  ]
}`
	f := newRoomFixture(t, gated)
	f.boot()

	if f.room.ledger.Has("room", StatusReady) {
		t.Fatal("gated room must not become ready on Start")
	}

	f.room.AddTagStatus("ext", "go", "")
	f.drain()

	if !f.room.ledger.Has("room", StatusReady) {
		t.Error("room should become ready once the start trigger matches")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.boot()

	f.room.Destroy(f.ctx)
	f.room.Destroy(f.ctx)

	if got := len(f.client.CallsTo("DestroyBridge")); got != 1 {
		t.Errorf("DestroyBridge calls = %d, want 1", got)
	}
	if !f.room.ledger.Has("bridge_main", "api_destroy_bridge") {
		t.Error("missing api_destroy_bridge record")
	}
}

func TestLifecyclePublishedOnInitAndReady(t *testing.T) {
	f := newRoomFixture(t, testPlan)
	f.boot()

	var statuses []string
	for _, ev := range f.pub.Events() {
		if ev.Tag == "room" {
			statuses = append(statuses, ev.Status)
		}
	}
	if len(statuses) != 2 || statuses[0] != StatusInit || statuses[1] != StatusReady {
		t.Errorf("published room statuses = %v, want [init ready]", statuses)
	}
}
