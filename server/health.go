package main

import "math"

const (
	FieldHealth = "health"
	FieldAlive  = "alive"
)

// Health is the damage-taking component of tanks and NPCs
type Health struct {
	Current  *Replicated[float64]
	IsAlive  *Replicated[bool]
	Starting float64
	dead     bool
}

// NewHealth creates a full health component for entity id
func NewHealth(id EntityID, starting float64, sink ChangeSink) *Health {
	h := &Health{
		Current:  NewReplicated[float64](id, FieldHealth, sink),
		IsAlive:  NewReplicated[bool](id, FieldAlive, sink),
		Starting: starting,
	}
	h.Current.Init(starting)
	h.IsAlive.Init(true)
	return h
}

func (h *Health) Alive() bool {
	return !h.dead
}

// TakeDamage subtracts amount and returns true only on the call that kills.
// Health is not floored, so an overshooting hit leaves it negative.
func (h *Health) TakeDamage(amount float64) bool {
	if h.dead || amount <= 0 || math.IsNaN(amount) {
		return false
	}
	h.Current.Set(h.Current.Get() - amount)
	if h.Current.Get() <= 0 {
		h.dead = true
		h.IsAlive.Set(false)
		return true
	}
	return false
}

// Reset restores starting health
func (h *Health) Reset() {
	h.dead = false
	h.Current.Set(h.Starting)
	h.IsAlive.Set(true)
}
