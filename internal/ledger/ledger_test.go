package ledger

import (
	"testing"
	"time"
)

func TestRecordFirstOccurrence(t *testing.T) {
	l := New()

	if !l.Record("oper", "init", time.Time{}, time.Time{}, "v1") {
		t.Fatal("first record should return true")
	}
	if l.Record("oper", "init", time.Time{}, time.Time{}, "v2") {
		t.Fatal("repeat record should return false")
	}

	value, ok := l.Value("oper", "init")
	if !ok {
		t.Fatal("expected value for oper/init")
	}
	if value != "v1" {
		t.Errorf("Value = %q, want first-occurrence value %q", value, "v1")
	}
}

func TestRewritesAppend(t *testing.T) {
	l := New()
	l.Record("oper", "ChannelVarset#FOO", time.Time{}, time.Time{}, "a")
	l.Record("oper", "ChannelVarset#FOO", time.Time{}, time.Time{}, "b")
	l.Record("oper", "ChannelVarset#FOO", time.Time{}, time.Time{}, "c")

	snap := l.Snapshot()
	rec := snap["oper"]["ChannelVarset#FOO"]
	if rec.Value != "a" {
		t.Errorf("first value = %q, want a", rec.Value)
	}
	if len(rec.Rewrites) != 2 {
		t.Fatalf("rewrites = %d, want 2", len(rec.Rewrites))
	}
	if rec.Rewrites[0].Value != "b" || rec.Rewrites[1].Value != "c" {
		t.Errorf("rewrite values = %q, %q, want b, c", rec.Rewrites[0].Value, rec.Rewrites[1].Value)
	}
}

func TestHasAndHasTag(t *testing.T) {
	l := New()
	if l.Has("oper", "init") || l.HasTag("oper") {
		t.Fatal("empty ledger should have nothing")
	}

	l.Record("oper", "init", time.Time{}, time.Time{}, "")

	if !l.Has("oper", "init") {
		t.Error("Has(oper, init) = false after record")
	}
	if l.Has("oper", "ready") {
		t.Error("Has(oper, ready) = true, never recorded")
	}
	if !l.HasTag("oper") {
		t.Error("HasTag(oper) = false after record")
	}
	if l.HasTag("client") {
		t.Error("HasTag(client) = true, never recorded")
	}
}

func TestFirstOccurrenceUsesClock(t *testing.T) {
	now := time.Date(2023, 5, 16, 0, 33, 52, 0, time.UTC)
	l := NewWithOptions(WithClock(func() time.Time { return now }))

	l.Record("room", "stop", time.Time{}, time.Time{}, "")

	// A rewrite at a later clock reading must not move the first
	// occurrence.
	now = now.Add(30 * time.Second)
	l.Record("room", "stop", time.Time{}, time.Time{}, "")

	at, ok := l.FirstOccurrence("room", "stop")
	if !ok {
		t.Fatal("expected first occurrence for room/stop")
	}
	want := time.Date(2023, 5, 16, 0, 33, 52, 0, time.UTC)
	if !at.Equal(want) {
		t.Errorf("FirstOccurrence = %v, want %v", at, want)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	l := New()
	l.Record("oper", "init", time.Time{}, time.Time{}, "a")
	l.Record("oper", "init", time.Time{}, time.Time{}, "b")

	snap := l.Snapshot()
	rec := snap["oper"]["init"]
	rec.Rewrites[0].Value = "mutated"

	fresh := l.Snapshot()
	if got := fresh["oper"]["init"].Rewrites[0].Value; got != "b" {
		t.Errorf("ledger rewrite = %q after snapshot mutation, want b", got)
	}
}
