package main

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	TankSpeed       = 12.0  // units/s
	TankTurnSpeed   = 180.0 // degrees/s
	TankHitRadius   = 1.5   // contact radius for shells
	MuzzleOffset    = 1.7   // shell spawn distance in front of the hull
	FireCooldown    = 0.5   // seconds between shots
	SpawnRingRadius = 30.0
	SpawnAnchors    = 8
	maxNameLen      = 16
)

const (
	FieldName        = "name"
	FieldColor       = "color"
	FieldColoredName = "colored_name"
	FieldWins        = "wins"
	FieldControls    = "controls"
)

// Color is an RGB triple with components in [0,1]
type Color struct {
	R float64 `json:"r" msgpack:"r"`
	G float64 `json:"g" msgpack:"g"`
	B float64 `json:"b" msgpack:"b"`
}

var DefaultTankColor = Color{R: 0, G: 0, B: 1}

func validComponent(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Valid reports whether every component lies in [0,1]
func (c Color) Valid() bool {
	return validComponent(c.R) && validComponent(c.G) && validComponent(c.B)
}

func to255(v float64) int {
	return int(math.Round(Clamp(v, 0, 1) * 255))
}

// Hex returns the uppercase RRGGBB form
func (c Color) Hex() string {
	return fmt.Sprintf("%02X%02X%02X", to255(c.R), to255(c.G), to255(c.B))
}

// String is the persisted "r,g,b" form with components in 0..255
func (c Color) String() string {
	return fmt.Sprintf("%d,%d,%d", to255(c.R), to255(c.G), to255(c.B))
}

// ParseColor reads the persisted "r,g,b" form
func ParseColor(s string) (Color, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Color{}, fmt.Errorf("color %q: want r,g,b", s)
	}
	var v [3]float64
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Color{}, fmt.Errorf("color %q: %w", s, err)
		}
		if n < 0 || n > 255 {
			return Color{}, fmt.Errorf("color %q: component %d out of range", s, n)
		}
		v[i] = float64(n) / 255
	}
	return Color{R: v[0], G: v[1], B: v[2]}, nil
}

// Decorate wraps name in a rich-text color tag. An empty name stays empty.
func Decorate(name string, c Color) string {
	if name == "" {
		return ""
	}
	return "<color=#" + c.Hex() + ">" + name + "</color>"
}

// ValidateName trims and bounds a requested name
func ValidateName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return "", false
	}
	return name, true
}

// SpawnAnchor returns the i-th fixed spawn point on the ring, facing the centre
func SpawnAnchor(i int) Transform {
	i %= SpawnAnchors
	yaw := float64(i) * 360 / SpawnAnchors
	r := yaw * math.Pi / 180
	return Transform{
		Pos: Vec3{X: SpawnRingRadius * math.Sin(r), Z: SpawnRingRadius * math.Cos(r)},
		Yaw: NormalizeYaw(yaw + 180),
	}
}

// TankInput is the latest movement intent from the owning client
type TankInput struct {
	Move float64 `json:"move"`
	Turn float64 `json:"turn"`
	Fire bool    `json:"fire"`
	Alt  bool    `json:"alt"`
}

// Tank is the player-identity component of a tank entity
type Tank struct {
	Name        *Replicated[string]
	Color       *Replicated[Color]
	ColoredName *Replicated[string]
	Wins        *Replicated[int]
	Controls    *Replicated[bool]

	// Anchor is captured once at creation and reused by every respawn
	Anchor Transform
	Input  TankInput
	FireCD float64

	entity *Entity
	notify Notifier
}

// NewTank builds the component for e. Identity fields start empty until Seed.
func NewTank(e *Entity, anchor Transform, sink ChangeSink, notify Notifier) *Tank {
	t := &Tank{
		Name:        NewReplicated[string](e.ID, FieldName, sink),
		Color:       NewReplicated[Color](e.ID, FieldColor, sink),
		ColoredName: NewReplicated[string](e.ID, FieldColoredName, sink),
		Wins:        NewReplicated[int](e.ID, FieldWins, sink),
		Controls:    NewReplicated[bool](e.ID, FieldControls, sink),
		Anchor:      anchor,
		entity:      e,
		notify:      notify,
	}
	t.Name.Init("")
	t.Color.Init(DefaultTankColor)
	t.ColoredName.Init("")
	t.Wins.Init(0)
	t.Controls.Init(false)
	return t
}

// Seed commits the initial identity read from preferences. Invalid values
// fall back to the defaults.
func (t *Tank) Seed(name string, c Color) {
	n, ok := ValidateName(name)
	if !ok {
		n = fmt.Sprintf("Player %d", t.entity.ID)
	}
	if !c.Valid() {
		c = DefaultTankColor
	}
	old := t.ColoredName.Get()
	t.Name.Set(n)
	t.Color.Set(c)
	t.commitColoredName(old)
}

func (t *Tank) authorize(caller ConnID, op string) bool {
	if caller == "" || caller != t.entity.Owner {
		log.Printf("warn: %s on tank %d from %q rejected: not owner", op, t.entity.ID, caller)
		return false
	}
	return true
}

// RequestSetName validates and commits a rename from caller
func (t *Tank) RequestSetName(caller ConnID, name string) bool {
	if !t.authorize(caller, "set name") {
		return false
	}
	n, ok := ValidateName(name)
	if !ok {
		log.Printf("warn: set name on tank %d rejected: invalid name %q", t.entity.ID, name)
		return false
	}
	old := t.ColoredName.Get()
	t.Name.Set(n)
	t.commitColoredName(old)
	return true
}

// RequestSetColor validates and commits a recolour from caller
func (t *Tank) RequestSetColor(caller ConnID, c Color) bool {
	if !t.authorize(caller, "set color") {
		return false
	}
	if !c.Valid() {
		log.Printf("warn: set color on tank %d rejected: invalid color %+v", t.entity.ID, c)
		return false
	}
	old := t.ColoredName.Get()
	t.Color.Set(c)
	t.commitColoredName(old)
	return true
}

// RequestSetControlsEnabled lets the owner toggle its own controls. Enabling
// is only allowed while a round is being played.
func (t *Tank) RequestSetControlsEnabled(caller ConnID, enabled, playing bool) bool {
	if !t.authorize(caller, "set controls") {
		return false
	}
	if enabled && !playing {
		log.Printf("warn: enable controls on tank %d rejected: round not in play", t.entity.ID)
		return false
	}
	t.SetControlsEnabled(enabled)
	return true
}

// SetControlsEnabled is the server-side toggle used by the match
func (t *Tank) SetControlsEnabled(enabled bool) {
	t.Controls.Set(enabled)
	if !enabled {
		t.Input = TankInput{}
	}
}

func (t *Tank) commitColoredName(old string) {
	decorated := Decorate(t.Name.Get(), t.Color.Get())
	t.ColoredName.Set(decorated)
	if t.notify == nil {
		return
	}
	switch {
	case old == "" && decorated != "":
		t.notify.Notify(Event{Kind: EventJoined, Entity: t.entity.ID, Text: decorated + " joined the game"})
	case old != "" && decorated != "":
		t.notify.Notify(Event{Kind: EventRenamed, Entity: t.entity.ID, Text: old + " is now " + decorated})
	}
}

// Respawn resets the tank at its anchor with full health
func (t *Tank) Respawn() {
	e := t.entity
	e.Transform = t.Anchor
	e.Active = true
	t.Input = TankInput{}
	t.FireCD = 0
	if e.Health != nil {
		e.Health.Reset()
	}
	if t.notify != nil {
		pos := e.Transform.Pos
		t.notify.Notify(Event{Kind: EventRespawn, Entity: e.ID, Pos: &pos})
	}
}

// Update moves the tank one tick (dt in seconds) and clamps it to the arena
func (t *Tank) Update(dt, halfSize float64) {
	e := t.entity
	if t.FireCD > 0 {
		t.FireCD -= dt
	}
	if !t.Controls.Get() || !e.Alive() || !e.Active {
		return
	}
	turn := Clamp(t.Input.Turn, -1, 1)
	move := Clamp(t.Input.Move, -1, 1)
	e.Transform.Yaw = NormalizeYaw(e.Transform.Yaw + turn*TankTurnSpeed*dt)
	pos := e.Transform.Pos.Add(e.Transform.Forward().Scale(move * TankSpeed * dt))
	pos.X = Clamp(pos.X, -halfSize, halfSize)
	pos.Z = Clamp(pos.Z, -halfSize, halfSize)
	e.Transform.Pos = pos
}

// CanFire returns true if the tank may launch a shell this tick
func (t *Tank) CanFire() bool {
	return t.Controls.Get() && t.entity.Alive() && t.entity.Active && t.FireCD <= 0
}

// Muzzle is the launch transform for a new shell
func (t *Tank) Muzzle() Transform {
	tf := t.entity.Transform
	tf.Pos = tf.Pos.Add(tf.Forward().Scale(MuzzleOffset))
	return tf
}
