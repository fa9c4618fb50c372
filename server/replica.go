package main

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// ReplicaEntity is an observer's read-only copy of an entity
type ReplicaEntity struct {
	ID        EntityID
	Kind      Kind
	Tag       Tag
	Owner     ConnID
	Transform Transform
	Active    bool

	Name        *Replicated[string]
	Color       *Replicated[Color]
	ColoredName *Replicated[string]
	Wins        *Replicated[int]
	Controls    *Replicated[bool]
	Health      *Replicated[float64]
	Alive       *Replicated[bool]
}

func newReplicaEntity(st EntityState, queue func(func())) *ReplicaEntity {
	e := &ReplicaEntity{
		ID:          st.ID,
		Kind:        st.Kind,
		Tag:         st.Tag,
		Owner:       st.Owner,
		Transform:   st.Transform,
		Active:      st.Active,
		Name:        NewReplica[string](st.ID, FieldName),
		Color:       NewReplica[Color](st.ID, FieldColor),
		ColoredName: NewReplica[string](st.ID, FieldColoredName),
		Wins:        NewReplica[int](st.ID, FieldWins),
		Controls:    NewReplica[bool](st.ID, FieldControls),
		Health:      NewReplica[float64](st.ID, FieldHealth),
		Alive:       NewReplica[bool](st.ID, FieldAlive),
	}
	e.Name.dispatch = queue
	e.Color.dispatch = queue
	e.ColoredName.dispatch = queue
	e.Wins.dispatch = queue
	e.Controls.dispatch = queue
	e.Health.dispatch = queue
	e.Alive.dispatch = queue
	return e
}

// applyFields copies present values; missing health means "not mortal"
func (r *ReplicaEntity) applyFields(f FieldSet) {
	applyPtr(r.Name, f.Name)
	applyPtr(r.Color, f.Color)
	applyPtr(r.ColoredName, f.ColoredName)
	applyPtr(r.Wins, f.Wins)
	applyPtr(r.Controls, f.Controls)
	applyPtr(r.Health, f.Health)
	if f.Alive != nil {
		r.Alive.Apply(r.Alive.Get(), *f.Alive)
	} else {
		r.Alive.Apply(r.Alive.Get(), true)
	}
}

func applyPtr[T any](r *Replicated[T], v *T) {
	if v != nil {
		r.Apply(r.Get(), *v)
	}
}

// ReplicaStore is the client-side directory. Every apply is idempotent and
// messages for unknown ids are dropped. Change hooks are queued while the
// store is locked and run after it is released, so they may read the store.
type ReplicaStore struct {
	mu       sync.Mutex
	entities map[EntityID]*ReplicaEntity
	order    []EntityID

	Phase       *Replicated[MatchPhase]
	Round       *Replicated[int]
	RoundWinner *Replicated[EntityID]
	GameWinner  *Replicated[EntityID]
	Message     *Replicated[string]
	Camera      *Replicated[[]EntityID]

	// OnSpawn runs once per newly known entity, before its fields are
	// applied and with the store locked; it is the place to register hooks
	OnSpawn func(e *ReplicaEntity)
	// OnEvent receives presentation events
	OnEvent func(ev Event)

	tick    uint64
	pending []func()
}

func NewReplicaStore() *ReplicaStore {
	s := &ReplicaStore{
		entities:    make(map[EntityID]*ReplicaEntity),
		Phase:       NewReplica[MatchPhase](NoEntity, FieldPhase),
		Round:       NewReplica[int](NoEntity, FieldRound),
		RoundWinner: NewReplica[EntityID](NoEntity, FieldRoundWinner),
		GameWinner:  NewReplica[EntityID](NoEntity, FieldGameWinner),
		Message:     NewReplica[string](NoEntity, FieldMessage),
		Camera:      NewReplica[[]EntityID](NoEntity, FieldCamera),
	}
	s.Phase.dispatch = s.queue
	s.Round.dispatch = s.queue
	s.RoundWinner.dispatch = s.queue
	s.GameWinner.dispatch = s.queue
	s.Message.dispatch = s.queue
	s.Camera.dispatch = s.queue
	return s
}

// queue defers a hook call; callers hold s.mu
func (s *ReplicaStore) queue(fn func()) {
	s.pending = append(s.pending, fn)
}

// unlockAndFlush releases the store, then runs the queued hooks in order
func (s *ReplicaStore) unlockAndFlush() {
	run := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range run {
		fn()
	}
}

// Get returns the replica for id
func (s *ReplicaStore) Get(id EntityID) (*ReplicaEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	return e, ok
}

func (s *ReplicaStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Query mirrors Directory.Query on the replica
func (s *ReplicaStore) Query(tag Tag, aliveOnly bool) []EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EntityID
	for _, id := range s.order {
		e := s.entities[id]
		if e.Tag != tag {
			continue
		}
		if aliveOnly && !e.Alive.Get() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ApplySpawn adds or refreshes an entity
func (s *ReplicaStore) ApplySpawn(st EntityState) {
	s.mu.Lock()
	s.spawnLocked(st)
	s.unlockAndFlush()
}

func (s *ReplicaStore) spawnLocked(st EntityState) {
	e, ok := s.entities[st.ID]
	if !ok {
		e = newReplicaEntity(st, s.queue)
		s.entities[st.ID] = e
		s.order = append(s.order, st.ID)
		if s.OnSpawn != nil {
			s.OnSpawn(e)
		}
	}
	e.Owner = st.Owner
	e.Transform = st.Transform
	e.Active = st.Active
	e.applyFields(st.Fields)
}

// ApplyDespawn removes an entity. Unknown ids are ignored.
func (s *ReplicaStore) ApplyDespawn(id EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return
	}
	delete(s.entities, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ApplySnapshot replaces the whole replica with a fresh copy
func (s *ReplicaStore) ApplySnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.unlockAndFlush()
	keep := make(map[EntityID]struct{}, len(snap.Entities))
	for _, st := range snap.Entities {
		keep[st.ID] = struct{}{}
		s.spawnLocked(st)
	}
	order := s.order[:0]
	for _, id := range s.order {
		if _, ok := keep[id]; ok {
			order = append(order, id)
		} else {
			delete(s.entities, id)
		}
	}
	s.order = order
	m := snap.Match
	s.Phase.Apply(s.Phase.Get(), m.Phase)
	s.Round.Apply(s.Round.Get(), m.Round)
	s.RoundWinner.Apply(s.RoundWinner.Get(), m.RoundWinner)
	s.GameWinner.Apply(s.GameWinner.Get(), m.GameWinner)
	s.Message.Apply(s.Message.Get(), m.Message)
	s.Camera.Apply(s.Camera.Get(), m.Camera)
	s.tick = snap.Tick
}

// ApplyTransforms updates positions; frames older than the last seen are ignored
func (s *ReplicaStore) ApplyTransforms(f TransformFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Tick < s.tick {
		return
	}
	s.tick = f.Tick
	for _, it := range f.Items {
		if e, ok := s.entities[it.ID]; ok {
			e.Transform = it.Transform
		}
	}
}

func applyRaw[T any](r *Replicated[T], oldRaw, newRaw json.RawMessage) error {
	var o, n T
	if len(oldRaw) > 0 {
		if err := json.Unmarshal(oldRaw, &o); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(newRaw, &n); err != nil {
		return err
	}
	r.Apply(o, n)
	return nil
}

// ApplySync applies one field change. Changes for unknown entities are
// dropped; unknown fields are an error.
func (s *ReplicaStore) ApplySync(m SyncIn) error {
	s.mu.Lock()
	defer s.unlockAndFlush()
	if m.E == NoEntity {
		switch m.F {
		case FieldPhase:
			return applyRaw(s.Phase, m.O, m.N)
		case FieldRound:
			return applyRaw(s.Round, m.O, m.N)
		case FieldRoundWinner:
			return applyRaw(s.RoundWinner, m.O, m.N)
		case FieldGameWinner:
			return applyRaw(s.GameWinner, m.O, m.N)
		case FieldMessage:
			return applyRaw(s.Message, m.O, m.N)
		case FieldCamera:
			return applyRaw(s.Camera, m.O, m.N)
		}
		return fmt.Errorf("unknown match field %q", m.F)
	}
	e, ok := s.entities[m.E]
	if !ok {
		return nil
	}
	switch m.F {
	case FieldName:
		return applyRaw(e.Name, m.O, m.N)
	case FieldColor:
		return applyRaw(e.Color, m.O, m.N)
	case FieldColoredName:
		return applyRaw(e.ColoredName, m.O, m.N)
	case FieldWins:
		return applyRaw(e.Wins, m.O, m.N)
	case FieldControls:
		return applyRaw(e.Controls, m.O, m.N)
	case FieldHealth:
		return applyRaw(e.Health, m.O, m.N)
	case FieldAlive:
		return applyRaw(e.Alive, m.O, m.N)
	}
	return fmt.Errorf("unknown field %q on entity %d", m.F, m.E)
}

// HandleText applies one JSON envelope received from the server. It
// returns the envelope type so callers can react to non-replication messages.
func (s *ReplicaStore) HandleText(raw []byte) (InEnvelope, error) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	switch env.T {
	case MsgSpawn:
		var st EntityState
		if err := json.Unmarshal(env.D, &st); err != nil {
			return env, err
		}
		s.ApplySpawn(st)
	case MsgDespawn:
		var m DespawnMsg
		if err := json.Unmarshal(env.D, &m); err != nil {
			return env, err
		}
		s.ApplyDespawn(m.E)
	case MsgSync:
		var m SyncIn
		if err := json.Unmarshal(env.D, &m); err != nil {
			return env, err
		}
		if err := s.ApplySync(m); err != nil {
			return env, err
		}
	case MsgEvent:
		var ev Event
		if err := json.Unmarshal(env.D, &ev); err != nil {
			return env, err
		}
		s.applyEvent(ev)
		if s.OnEvent != nil {
			s.OnEvent(ev)
		}
	}
	return env, nil
}

// applyEvent mirrors the visible side of events. Respawn re-activates the
// entity at the announced position.
func (s *ReplicaStore) applyEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ev.Entity]
	if !ok {
		return
	}
	switch ev.Kind {
	case EventRespawn:
		e.Active = true
		if ev.Pos != nil {
			e.Transform.Pos = *ev.Pos
		}
	case EventExplosion:
		if e.Kind == KindTank {
			e.Active = false
		}
	}
}

// HandleBinary applies a snapshot or transform frame
func (s *ReplicaStore) HandleBinary(raw []byte) error {
	if len(raw) < 1 {
		return fmt.Errorf("empty binary frame")
	}
	switch raw[0] {
	case FrameSnapshot:
		var snap Snapshot
		if err := msgpack.Unmarshal(raw[1:], &snap); err != nil {
			return err
		}
		s.ApplySnapshot(snap)
	case FrameTransforms:
		var f TransformFrame
		if err := msgpack.Unmarshal(raw[1:], &f); err != nil {
			return err
		}
		s.ApplyTransforms(f)
	default:
		log.Printf("replica: unknown frame kind 0x%02x", raw[0])
	}
	return nil
}
