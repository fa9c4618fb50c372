package main

// DirectoryListener is told about every spawn and despawn, in order
type DirectoryListener interface {
	EntitySpawned(e *Entity)
	EntityDespawned(e *Entity)
}

// Directory is the authoritative registry of live entities. Enumeration
// follows insertion order. Guarded by the owning Game's mutex.
type Directory struct {
	nextID    EntityID
	entities  map[EntityID]*Entity
	order     []EntityID
	sink      ChangeSink
	listeners []DirectoryListener
}

// NewDirectory creates a directory whose components publish to sink
func NewDirectory(sink ChangeSink) *Directory {
	return &Directory{
		entities: make(map[EntityID]*Entity),
		sink:     sink,
	}
}

// Sink is the change sink components of this directory publish to
func (d *Directory) Sink() ChangeSink {
	return d.sink
}

func (d *Directory) AddListener(l DirectoryListener) {
	d.listeners = append(d.listeners, l)
}

// Spawn registers a new entity and announces it. attach, when non-nil, adds
// components before listeners see the entity.
func (d *Directory) Spawn(kind Kind, tag Tag, owner ConnID, tf Transform, attach func(e *Entity)) EntityID {
	d.nextID++
	e := &Entity{
		ID:        d.nextID,
		Kind:      kind,
		Tag:       tag,
		Owner:     owner,
		Transform: tf,
		Active:    true,
	}
	if attach != nil {
		attach(e)
	}
	d.entities[e.ID] = e
	d.order = append(d.order, e.ID)
	for _, l := range d.listeners {
		l.EntitySpawned(e)
	}
	return e.ID
}

// Despawn removes an entity. Unknown ids are ignored.
func (d *Directory) Despawn(id EntityID) bool {
	e, ok := d.entities[id]
	if !ok {
		return false
	}
	delete(d.entities, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	for _, l := range d.listeners {
		l.EntityDespawned(e)
	}
	return true
}

func (d *Directory) Get(id EntityID) (*Entity, bool) {
	e, ok := d.entities[id]
	return e, ok
}

func (d *Directory) Len() int {
	return len(d.order)
}

// Entities returns all live entities in insertion order
func (d *Directory) Entities() []*Entity {
	out := make([]*Entity, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.entities[id])
	}
	return out
}

// Query returns ids carrying tag, in insertion order. aliveOnly skips
// entities whose health has run out.
func (d *Directory) Query(tag Tag, aliveOnly bool) []EntityID {
	var out []EntityID
	for _, id := range d.order {
		e := d.entities[id]
		if e.Tag != tag {
			continue
		}
		if aliveOnly && !e.Alive() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// QueryKind returns ids of the given kind in insertion order
func (d *Directory) QueryKind(kind Kind) []EntityID {
	var out []EntityID
	for _, id := range d.order {
		if d.entities[id].Kind == kind {
			out = append(out, id)
		}
	}
	return out
}

// CountOwners returns the number of distinct connections owning an entity
func (d *Directory) CountOwners() int {
	seen := make(map[ConnID]struct{})
	for _, e := range d.entities {
		if e.Owner != "" {
			seen[e.Owner] = struct{}{}
		}
	}
	return len(seen)
}

// OwnedBy returns the tank owned by conn, if any
func (d *Directory) OwnedBy(conn ConnID) (*Entity, bool) {
	if conn == "" {
		return nil, false
	}
	for _, id := range d.order {
		e := d.entities[id]
		if e.Owner == conn && e.Kind == KindTank {
			return e, true
		}
	}
	return nil, false
}
