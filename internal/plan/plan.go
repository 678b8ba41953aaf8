// Package plan holds the declarative call-flow model: a tree of typed
// nodes, each carrying the triggers that start, terminate or invoke
// behaviour on it once a watched (tag, status) pair appears in the call's
// ledger.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Node kinds. An unrecognised kind falls back to KindChanOutbound at
// instantiation time, with a logged warning.
const (
	KindRoom         = "room"
	KindBridge       = "bridge"
	KindChanOutbound = "chan_outbound"
	KindChanInbound  = "chan_inbound"
	KindChanSnoop    = "chan_snoop"
	KindChanEmedia   = "chan_emedia"
	KindClip         = "clip"
)

// Trigger actions.
const (
	ActionStart     = "start"
	ActionTerminate = "terminate"
	ActionInvoke    = "func"
)

var ErrMalformedPlan = errors.New("malformed plan")

// Trigger is a watched (tag, status) condition plus an action. Active
// flips to false exactly once when the trigger fires; an inactive trigger
// never causes a side effect again for the lifetime of its call.
type Trigger struct {
	Tag    string
	Status string
	Action string
	Func   string
	Active bool
}

// Node is one slot in the call-flow tree. The tree is immutable after
// load except for the Active flags on triggers, which is why every call
// works on its own Clone.
type Node struct {
	Name     string
	Tag      string
	Kind     string
	Status   string
	Params   map[string]string
	Triggers []*Trigger
	Children []*Node
}

type rawTrigger struct {
	Tag    string `json:"trigger_tag"`
	Status string `json:"trigger_status"`
	Action string `json:"action"`
	Func   string `json:"func"`
	Active *bool  `json:"active"`
}

type rawNode struct {
	Name     string            `json:"name"`
	Tag      string            `json:"tag"`
	Type     string            `json:"type"`
	Status   string            `json:"status"`
	Params   map[string]string `json:"params"`
	Triggers []rawTrigger      `json:"triggers"`
	Content  []rawNode         `json:"content"`
}

// Load parses a call-flow definition. A node without a tag is malformed;
// every other missing field degrades to a default so a sparse plan still
// drives a call.
func Load(data []byte) (*Node, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}
	return build(raw, "")
}

func build(raw rawNode, path string) (*Node, error) {
	if raw.Tag == "" {
		return nil, fmt.Errorf("%w: node %q has no tag", ErrMalformedPlan, path)
	}

	n := &Node{
		Name:   raw.Name,
		Tag:    raw.Tag,
		Kind:   raw.Type,
		Status: raw.Status,
		Params: raw.Params,
	}
	if n.Name == "" {
		n.Name = "unknown"
	}
	if n.Kind == "" {
		n.Kind = "unknown"
	}
	if n.Status == "" {
		n.Status = "init"
	}
	if n.Params == nil {
		n.Params = map[string]string{}
	}

	for _, rt := range raw.Triggers {
		t := &Trigger{
			Tag:    rt.Tag,
			Status: rt.Status,
			Action: rt.Action,
			Func:   rt.Func,
			Active: true,
		}
		if rt.Active != nil {
			t.Active = *rt.Active
		}
		n.Triggers = append(n.Triggers, t)
	}

	for _, rc := range raw.Content {
		child, err := build(rc, path+"/"+raw.Tag)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}

	return n, nil
}

// Clone returns an independent deep copy, so trigger firing on one call
// never leaks into another.
func (n *Node) Clone() *Node {
	c := &Node{
		Name:   n.Name,
		Tag:    n.Tag,
		Kind:   n.Kind,
		Status: n.Status,
		Params: make(map[string]string, len(n.Params)),
	}
	for k, v := range n.Params {
		c.Params[k] = v
	}
	for _, t := range n.Triggers {
		tc := *t
		c.Triggers = append(c.Triggers, &tc)
	}
	for _, child := range n.Children {
		c.Children = append(c.Children, child.Clone())
	}
	return c
}

// LoadDir loads every *.json plan in dir, keyed by file stem.
func LoadDir(dir string) (map[string]*Node, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading plans dir: %w", err)
	}

	plans := make(map[string]*Node)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading plan %s: %w", e.Name(), err)
		}
		node, err := Load(data)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", e.Name(), err)
		}
		plans[strings.TrimSuffix(e.Name(), ".json")] = node
	}

	if len(plans) == 0 {
		return nil, fmt.Errorf("no plans found in %s", dir)
	}
	return plans, nil
}
