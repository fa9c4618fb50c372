package main

// EventKind names a presentation event
type EventKind string

const (
	EventJoined    EventKind = "joined"
	EventRenamed   EventKind = "renamed"
	EventExplosion EventKind = "explosion"
	EventImpact    EventKind = "impact"
	EventRespawn   EventKind = "respawn"
	EventFinished  EventKind = "finished"
)

// Event is a fire-and-forget notification for the presentation layer.
// Replicas may see it more than once and must treat it as idempotent.
type Event struct {
	Kind   EventKind `json:"k"`
	Text   string    `json:"text,omitempty"`
	Entity EntityID  `json:"e,omitempty"`
	Pos    *Vec3     `json:"pos,omitempty"`
	Winner EntityID  `json:"winner,omitempty"`
}

// Notifier delivers events to every observer
type Notifier interface {
	Notify(ev Event)
}
