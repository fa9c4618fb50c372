package main

import "testing"

func TestObserverGroupMembership(t *testing.T) {
	sink := &changeLog{}
	g := NewObserverGroup(sink)

	added, removed := g.UpdateMembership([]EntityID{3, 1})
	if len(added) != 2 || len(removed) != 0 {
		t.Errorf("expected 2 added, got +%v -%v", added, removed)
	}
	if m := g.Members(); len(m) != 2 || m[0] != 1 || m[1] != 3 {
		t.Errorf("expected sorted [1 3], got %v", m)
	}
	if len(sink.changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(sink.changes))
	}

	// Same set again is a no-op
	added, removed = g.UpdateMembership([]EntityID{1, 3})
	if len(added) != 0 || len(removed) != 0 || len(sink.changes) != 1 {
		t.Errorf("repeat update should change nothing: +%v -%v changes=%d", added, removed, len(sink.changes))
	}

	added, removed = g.UpdateMembership([]EntityID{3, 4})
	if len(added) != 1 || added[0] != 4 || len(removed) != 1 || removed[0] != 1 {
		t.Errorf("expected +[4] -[1], got +%v -%v", added, removed)
	}
	if !g.Contains(4) || g.Contains(1) {
		t.Error("membership not updated")
	}
	last := sink.changes[len(sink.changes)-1]
	if ids, ok := last.New.([]EntityID); !ok || len(ids) != 2 || ids[0] != 3 || ids[1] != 4 {
		t.Errorf("expected published [3 4], got %v", last.New)
	}
}
