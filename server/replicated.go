package main

import "log"

// Change is one committed field update, addressed by entity and field name
type Change struct {
	Entity EntityID `json:"e"`
	Field  string   `json:"f"`
	Old    any      `json:"o"`
	New    any      `json:"n"`
}

// ChangeSink receives every commit made on the authoritative side and fans
// it out to observers in commit order.
type ChangeSink interface {
	Publish(c Change)
}

// Replicated holds one field of replicated state. On the authority Set
// commits and publishes; on a replica only Apply may change the value.
type Replicated[T any] struct {
	entity    EntityID
	field     string
	value     T
	authority bool
	sink      ChangeSink
	hooks     []func(old, new T)
	// dispatch, when set, receives hook calls instead of running them inline
	dispatch func(func())
}

// NewReplicated creates an authoritative value publishing to sink (may be nil)
func NewReplicated[T any](entity EntityID, field string, sink ChangeSink) *Replicated[T] {
	return &Replicated[T]{entity: entity, field: field, authority: true, sink: sink}
}

// NewReplica creates a read-only copy fed by Apply
func NewReplica[T any](entity EntityID, field string) *Replicated[T] {
	return &Replicated[T]{entity: entity, field: field}
}

func (r *Replicated[T]) Get() T {
	return r.value
}

func (r *Replicated[T]) Field() string {
	return r.field
}

func (r *Replicated[T]) IsAuthority() bool {
	return r.authority
}

// OnChange registers a hook invoked with (old, new) on every commit or apply
func (r *Replicated[T]) OnChange(fn func(old, new T)) {
	r.hooks = append(r.hooks, fn)
}

// Init performs the initial commit at spawn. Hooks fire, but nothing is
// published because the spawn message already carries the value.
func (r *Replicated[T]) Init(v T) bool {
	if !r.authority {
		log.Printf("warn: init %s on entity %d rejected: not authoritative", r.field, r.entity)
		return false
	}
	old := r.value
	r.value = v
	r.fire(old, v)
	return true
}

// Set commits v, runs local hooks, then publishes the change. Every call is
// a commit, including ones where the value does not change.
func (r *Replicated[T]) Set(v T) bool {
	if !r.authority {
		log.Printf("warn: set %s on entity %d rejected: not authoritative", r.field, r.entity)
		return false
	}
	old := r.value
	r.value = v
	r.fire(old, v)
	if r.sink != nil {
		r.sink.Publish(Change{Entity: r.entity, Field: r.field, Old: old, New: v})
	}
	return true
}

// Apply mirrors a change received from the authority. Applying the same
// change twice leaves the replica in the same state.
func (r *Replicated[T]) Apply(old, new T) {
	if r.authority {
		log.Printf("warn: apply %s on entity %d ignored: authoritative copy", r.field, r.entity)
		return
	}
	prev := r.value
	r.value = new
	r.fire(prev, new)
}

func (r *Replicated[T]) fire(old, new T) {
	for _, fn := range r.hooks {
		if r.dispatch != nil {
			r.dispatch(func() { fn(old, new) })
			continue
		}
		fn(old, new)
	}
}
