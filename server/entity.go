package main

import (
	"fmt"
	"math"
)

// EntityID is assigned by the directory and never reused within a session.
// Zero means "none" and addresses the match itself in sync messages.
type EntityID uint32

const NoEntity EntityID = 0

// ConnID identifies an attached connection. Empty means server-owned.
type ConnID string

// Kind of a replicated entity
type Kind uint8

const (
	KindTank Kind = iota + 1
	KindProjectile
	KindNPC
)

func (k Kind) String() string {
	switch k {
	case KindTank:
		return "tank"
	case KindProjectile:
		return "projectile"
	case KindNPC:
		return "npc"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Tag groups entities for queries
type Tag uint8

const (
	TagNeutral Tag = iota
	TagPlayer
	TagEnemy
)

func (t Tag) String() string {
	switch t {
	case TagNeutral:
		return "neutral"
	case TagPlayer:
		return "player"
	case TagEnemy:
		return "enemy"
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Vec3 is a world position. The arena is the XZ ground plane, Y is up.
type Vec3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Transform is position plus heading (degrees around Y, 0 faces +Z)
type Transform struct {
	Pos Vec3    `json:"p" msgpack:"p"`
	Yaw float64 `json:"y" msgpack:"y"`
}

// Forward returns the unit heading vector on the ground plane
func (t Transform) Forward() Vec3 {
	r := t.Yaw * math.Pi / 180
	return Vec3{X: math.Sin(r), Z: math.Cos(r)}
}

// Entity is one tracked game object. Components are optional.
type Entity struct {
	ID        EntityID
	Kind      Kind
	Tag       Tag
	Owner     ConnID
	Transform Transform

	// Active is false while a destroyed tank waits for the next round
	Active         bool
	DestroyOnDeath bool

	Tank       *Tank
	Health     *Health
	Projectile *Projectile
}

// Alive reports false only for entities whose health has run out
func (e *Entity) Alive() bool {
	return e.Health == nil || e.Health.Alive()
}

// Orphaned reports whether a tank lost its owning connection
func (e *Entity) Orphaned() bool {
	return e.Kind == KindTank && e.Owner == ""
}
