package main

import "time"

// ShellKind selects the fire or alt-fire shell
type ShellKind uint8

const (
	ShellStandard ShellKind = 0
	ShellAlt      ShellKind = 1
)

// ShellSpec holds the stats for a shell kind
type ShellSpec struct {
	MaxDamage float64
	Radius    float64 // explosion radius
	Lifetime  time.Duration
	Speed     float64 // units/s
	Range     float64 // detonates on the ground after this distance
}

var ShellSpecs = [2]ShellSpec{
	// Standard: heavy, short range
	{MaxDamage: 100, Radius: 5, Lifetime: 2 * time.Second, Speed: 15, Range: 20},
	// Alt: faster and wider, weaker blast
	{MaxDamage: 60, Radius: 8, Lifetime: 2 * time.Second, Speed: 25, Range: 30},
}

// GetShellSpec returns the definition for a shell kind
func GetShellSpec(kind ShellKind) ShellSpec {
	if int(kind) >= len(ShellSpecs) {
		return ShellSpecs[ShellStandard]
	}
	return ShellSpecs[kind]
}

// Projectile is the component carried by shell entities
type Projectile struct {
	Shooter   EntityID
	Kind      ShellKind
	Travelled float64
	expire    TimerID
}

func (p *Projectile) Spec() ShellSpec {
	return GetShellSpec(p.Kind)
}

// advance moves the shell one tick along its heading. reachedRange is true
// on the tick the shell runs out of range.
func (p *Projectile) advance(e *Entity, dt float64) (from, to Vec3, reachedRange bool) {
	spec := p.Spec()
	step := spec.Speed * dt
	if remaining := spec.Range - p.Travelled; step >= remaining {
		step = remaining
		reachedRange = true
	}
	from = e.Transform.Pos
	to = from.Add(e.Transform.Forward().Scale(step))
	p.Travelled += step
	return from, to, reachedRange
}
