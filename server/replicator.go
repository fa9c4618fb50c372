package main

import (
	"log"

	"github.com/vmihailenco/msgpack/v5"
)

// Broadcaster is one observer's ordered outbox. Implementations must keep
// message order and disconnect rather than drop when they fall behind.
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
	Disconnect()
}

// Replicator fans authoritative changes out to every attached observer.
// It is the ChangeSink of a session's directory and its Notifier.
type Replicator struct {
	dir       *Directory
	match     func() MatchState
	tick      func() uint64
	observers map[ConnID]Broadcaster
}

func NewReplicator() *Replicator {
	return &Replicator{observers: make(map[ConnID]Broadcaster)}
}

// Bind connects the replicator to the state it snapshots for late joiners
func (r *Replicator) Bind(dir *Directory, match func() MatchState, tick func() uint64) {
	r.dir = dir
	r.match = match
	r.tick = tick
	dir.AddListener(r)
}

// Attach adds an observer and sends it the full current state
func (r *Replicator) Attach(conn ConnID, b Broadcaster) {
	r.observers[conn] = b
	data, err := r.encodeSnapshot()
	if err != nil {
		log.Printf("snapshot encode error: %v", err)
		return
	}
	b.SendBinary(data)
}

func (r *Replicator) Detach(conn ConnID) {
	delete(r.observers, conn)
}

func (r *Replicator) Observers() int {
	return len(r.observers)
}

func (r *Replicator) broadcast(env Envelope) {
	for _, b := range r.observers {
		b.SendJSON(env)
	}
}

func (r *Replicator) Publish(c Change) {
	r.broadcast(Envelope{T: MsgSync, Data: c})
}

func (r *Replicator) Notify(ev Event) {
	r.broadcast(Envelope{T: MsgEvent, Data: ev})
}

func (r *Replicator) EntitySpawned(e *Entity) {
	r.broadcast(Envelope{T: MsgSpawn, Data: EntityStateOf(e)})
}

func (r *Replicator) EntityDespawned(e *Entity) {
	r.broadcast(Envelope{T: MsgDespawn, Data: DespawnMsg{E: e.ID}})
}

// BroadcastTransforms sends the positions of every active entity
func (r *Replicator) BroadcastTransforms() {
	if len(r.observers) == 0 {
		return
	}
	frame := TransformFrame{Tick: r.tick()}
	for _, e := range r.dir.Entities() {
		if e.Active {
			frame.Items = append(frame.Items, TransformState{ID: e.ID, Transform: e.Transform})
		}
	}
	data, err := encodeFrame(FrameTransforms, frame)
	if err != nil {
		log.Printf("transform encode error: %v", err)
		return
	}
	for _, b := range r.observers {
		b.SendBinary(data)
	}
}

func (r *Replicator) encodeSnapshot() ([]byte, error) {
	snap := Snapshot{}
	if r.tick != nil {
		snap.Tick = r.tick()
	}
	if r.dir != nil {
		for _, e := range r.dir.Entities() {
			snap.Entities = append(snap.Entities, EntityStateOf(e))
		}
	}
	if r.match != nil {
		snap.Match = r.match()
	}
	return encodeFrame(FrameSnapshot, snap)
}

func encodeFrame(kind byte, v interface{}) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(body)+1)
	out[0] = kind
	copy(out[1:], body)
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}

// EntityStateOf captures an entity and its current field values
func EntityStateOf(e *Entity) EntityState {
	st := EntityState{
		ID:        e.ID,
		Kind:      e.Kind,
		Tag:       e.Tag,
		Owner:     e.Owner,
		Transform: e.Transform,
		Active:    e.Active,
	}
	if t := e.Tank; t != nil {
		st.Fields.Name = ptr(t.Name.Get())
		st.Fields.Color = ptr(t.Color.Get())
		st.Fields.ColoredName = ptr(t.ColoredName.Get())
		st.Fields.Wins = ptr(t.Wins.Get())
		st.Fields.Controls = ptr(t.Controls.Get())
	}
	if h := e.Health; h != nil {
		st.Fields.Health = ptr(h.Current.Get())
		st.Fields.Alive = ptr(h.IsAlive.Get())
	}
	if p := e.Projectile; p != nil {
		st.Shell = ptr(p.Kind)
	}
	return st
}
