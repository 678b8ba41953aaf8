package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const miniPlan = `{
  "name": "mini",
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
          "params": {"dial_option_name": "intphone"},
          "triggers": [
            {"trigger_tag": "bridge_main", "trigger_status": "api_create_bridge", "action": "start"},
            {"trigger_tag": "oper", "trigger_status": "ChannelDestroyed", "action": "func", "func": "collect_hangup_cause", "active": false}
          ]
        }
      ]
    }
  ]
}`

func TestLoad(t *testing.T) {
	n, err := Load([]byte(miniPlan))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if n.Tag != "room" || n.Kind != KindRoom {
		t.Errorf("root = %s/%s, want room/room", n.Tag, n.Kind)
	}
	if n.Status != "init" {
		t.Errorf("root status = %q, want default init", n.Status)
	}
	if len(n.Children) != 1 {
		t.Fatalf("root children = %d, want 1", len(n.Children))
	}

	bridge := n.Children[0]
	if bridge.Name != "unknown" {
		t.Errorf("bridge name = %q, want default unknown", bridge.Name)
	}
	if len(bridge.Triggers) != 1 || !bridge.Triggers[0].Active {
		t.Error("bridge start trigger should default to active")
	}

	oper := bridge.Children[0]
	if oper.Params["dial_option_name"] != "intphone" {
		t.Errorf("oper params = %v", oper.Params)
	}
	if len(oper.Triggers) != 2 {
		t.Fatalf("oper triggers = %d, want 2", len(oper.Triggers))
	}
	if oper.Triggers[1].Active {
		t.Error("explicitly inactive trigger should stay inactive")
	}
	if oper.Triggers[1].Func != "collect_hangup_cause" {
		t.Errorf("invoke func = %q", oper.Triggers[1].Func)
	}
}

func TestLoadMissingTag(t *testing.T) {
	_, err := Load([]byte(`{"type": "room", "content": [{"type": "bridge"}]}`))
	if !errors.Is(err, ErrMalformedPlan) {
		t.Fatalf("err = %v, want ErrMalformedPlan", err)
	}
}

func TestLoadBadJSON(t *testing.T) {
	_, err := Load([]byte(`{not json`))
	if !errors.Is(err, ErrMalformedPlan) {
		t.Fatalf("err = %v, want ErrMalformedPlan", err)
	}
}

func TestCloneIsolation(t *testing.T) {
	n, err := Load([]byte(miniPlan))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	c := n.Clone()
	c.Children[0].Triggers[0].Active = false
	c.Children[0].Children[0].Params["dial_option_name"] = "extphone"

	if !n.Children[0].Triggers[0].Active {
		t.Error("clone trigger flip leaked into the original")
	}
	if n.Children[0].Children[0].Params["dial_option_name"] != "intphone" {
		t.Error("clone param write leaked into the original")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mini.json"), []byte(miniPlan), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	plans, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("plans = %d, want 1", len(plans))
	}
	if _, ok := plans["mini"]; !ok {
		t.Errorf("plan keys = %v, want mini", plans)
	}
}

func TestLoadDirEmpty(t *testing.T) {
	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Fatal("expected error for empty plans dir")
	}
}
