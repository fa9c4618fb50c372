package main

import "math"

// ComputeDamage is the linear explosion falloff: maxDamage at the centre,
// zero at or beyond radius.
func ComputeDamage(distance, radius, maxDamage float64) float64 {
	if radius <= 0 {
		return 0
	}
	return math.Max(0, maxDamage*(radius-distance)/radius)
}

// Combat resolves shells, explosions and deaths on the authority
type Combat struct {
	dir    *Directory
	sched  *Scheduler
	notify Notifier
	grid   *SpatialGrid
	buf    []EntityID

	// OnDeath runs after a target is marked dead and disabled or despawned.
	// killer is the shooter of the shell, or NoEntity.
	OnDeath func(victim *Entity, killer EntityID)
}

// NewCombat creates a resolver over dir. Combat cancels shell lifetime
// timers when shells are despawned, so it registers itself as a listener.
func NewCombat(dir *Directory, sched *Scheduler, notify Notifier, arenaHalf float64) *Combat {
	c := &Combat{
		dir:    dir,
		sched:  sched,
		notify: notify,
		grid:   NewSpatialGrid(arenaHalf, SpatialCellSize),
	}
	dir.AddListener(c)
	return c
}

func (c *Combat) EntitySpawned(e *Entity) {}

func (c *Combat) EntityDespawned(e *Entity) {
	if e.Projectile != nil && e.Projectile.expire != 0 {
		c.sched.Cancel(e.Projectile.expire)
		e.Projectile.expire = 0
	}
}

// FireProjectile spawns a shell owned by the server on behalf of shooter.
// It despawns silently after its lifetime if nothing else removed it.
func (c *Combat) FireProjectile(shooter EntityID, origin Transform, kind ShellKind) EntityID {
	proj := &Projectile{Shooter: shooter, Kind: kind}
	id := c.dir.Spawn(KindProjectile, TagNeutral, "", origin, func(e *Entity) {
		e.Projectile = proj
	})
	proj.expire = c.sched.After(proj.Spec().Lifetime, func() {
		proj.expire = 0
		c.dir.Despawn(id)
	})
	return id
}

// OnProjectileContact detonates a shell at impact, damaging every candidate
// with health inside the explosion radius, then despawns the shell.
// Contacts for shells already gone are dropped.
func (c *Combat) OnProjectileContact(projectile EntityID, impact Vec3, candidates []EntityID) {
	e, ok := c.dir.Get(projectile)
	if !ok || e.Projectile == nil {
		return
	}
	p := e.Projectile
	spec := p.Spec()
	for _, id := range candidates {
		target, ok := c.dir.Get(id)
		if !ok || target.Health == nil {
			continue
		}
		dist := Distance(impact, target.Transform.Pos)
		if dist >= spec.Radius {
			continue
		}
		c.applyDamage(target, ComputeDamage(dist, spec.Radius, spec.MaxDamage), p.Shooter)
	}
	at := impact
	c.notify.Notify(Event{Kind: EventImpact, Entity: projectile, Pos: &at})
	c.dir.Despawn(projectile)
}

// ApplyDamage subtracts amount from target's health. No-op on dead or
// unknown targets. Returns true on the hit that kills.
func (c *Combat) ApplyDamage(target EntityID, amount float64) bool {
	e, ok := c.dir.Get(target)
	if !ok || e.Health == nil {
		return false
	}
	return c.applyDamage(e, amount, NoEntity)
}

func (c *Combat) applyDamage(e *Entity, amount float64, killer EntityID) bool {
	if !e.Health.TakeDamage(amount) {
		return false
	}
	pos := e.Transform.Pos
	ev := Event{Kind: EventExplosion, Entity: e.ID, Pos: &pos}
	if e.Tank != nil {
		ev.Text = e.Tank.ColoredName.Get() + " was destroyed"
	}
	c.notify.Notify(ev)
	if e.DestroyOnDeath {
		c.dir.Despawn(e.ID)
	} else {
		e.Active = false
		if e.Tank != nil {
			e.Tank.Input = TankInput{}
		}
	}
	if c.OnDeath != nil {
		c.OnDeath(e, killer)
	}
	return true
}

// Step advances every shell one tick and resolves contacts. A shell touches
// the first live entity with health on its path, or the ground at range.
func (c *Combat) Step(dt float64) {
	c.rebuildGrid()
	for _, id := range c.dir.QueryKind(KindProjectile) {
		e, ok := c.dir.Get(id)
		if !ok {
			continue
		}
		from, to, reachedRange := e.Projectile.advance(e, dt)
		if impact, hit := c.firstContact(from, to); hit {
			c.OnProjectileContact(id, impact, c.candidates(impact, e.Projectile.Spec().Radius))
			continue
		}
		e.Transform.Pos = to
		if reachedRange {
			c.OnProjectileContact(id, to, c.candidates(to, e.Projectile.Spec().Radius))
		}
	}
}

func (c *Combat) rebuildGrid() {
	c.grid.Clear()
	for _, e := range c.dir.Entities() {
		if e.Health != nil && e.Active && e.Alive() {
			c.grid.Insert(e.Transform.Pos, e.ID)
		}
	}
}

// firstContact reports whether a live target with health lies on from -> to.
// The shell detonates where it stopped this tick.
func (c *Combat) firstContact(from, to Vec3) (Vec3, bool) {
	reach := Distance(from, to) + TankHitRadius
	c.buf = c.grid.QueryBuf(to, reach, c.buf[:0])
	for _, id := range c.buf {
		target, ok := c.dir.Get(id)
		if !ok || target.Health == nil || !target.Alive() || !target.Active {
			continue
		}
		if SweptHit(from, to, target.Transform.Pos, TankHitRadius) {
			return to, true
		}
	}
	return Vec3{}, false
}

func (c *Combat) candidates(at Vec3, radius float64) []EntityID {
	var out []EntityID
	for _, id := range c.grid.Query(at, radius) {
		if e, ok := c.dir.Get(id); ok && Distance(at, e.Transform.Pos) < radius {
			out = append(out, id)
		}
	}
	return out
}
