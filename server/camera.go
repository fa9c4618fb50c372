package main

import "slices"

const FieldCamera = "camera"

// ObserverGroup is the set of entities the shared camera keeps in frame.
// Membership is published as a sorted id list on the match pseudo-entity.
type ObserverGroup struct {
	members map[EntityID]struct{}
	Targets *Replicated[[]EntityID]
}

func NewObserverGroup(sink ChangeSink) *ObserverGroup {
	g := &ObserverGroup{
		members: make(map[EntityID]struct{}),
		Targets: NewReplicated[[]EntityID](NoEntity, FieldCamera, sink),
	}
	g.Targets.Init([]EntityID{})
	return g
}

// UpdateMembership adds ids not yet tracked and drops tracked ids missing
// from current. Calling it again with the same set changes nothing.
func (g *ObserverGroup) UpdateMembership(current []EntityID) (added, removed []EntityID) {
	want := make(map[EntityID]struct{}, len(current))
	for _, id := range current {
		want[id] = struct{}{}
		if _, ok := g.members[id]; !ok {
			g.members[id] = struct{}{}
			added = append(added, id)
		}
	}
	for id := range g.members {
		if _, ok := want[id]; !ok {
			delete(g.members, id)
			removed = append(removed, id)
		}
	}
	if len(added) > 0 || len(removed) > 0 {
		g.Targets.Set(g.Members())
	}
	return added, removed
}

func (g *ObserverGroup) Contains(id EntityID) bool {
	_, ok := g.members[id]
	return ok
}

// Members returns the tracked ids in ascending order
func (g *ObserverGroup) Members() []EntityID {
	out := make([]EntityID, 0, len(g.members))
	for id := range g.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
