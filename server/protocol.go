package main

import "encoding/json"

// Client -> Server message types
const (
	MsgJoin        = "join"
	MsgLeave       = "leave"
	MsgInput       = "input"
	MsgCreate      = "create"    // create session
	MsgList        = "list"      // list sessions
	MsgCheck       = "check"     // check if session exists
	MsgSetName     = "set_name"  // rename own tank
	MsgSetColor    = "set_color" // recolour own tank
	MsgControls    = "controls"  // toggle own controls
	MsgFire        = "fire"
	MsgRegister    = "register"
	MsgLogin       = "login"
	MsgAuth        = "auth"
	MsgProfile     = "profile"
	MsgLeaderboard = "leaderboard"
)

// Server -> Client message types
const (
	MsgWelcome     = "welcome"
	MsgSessions    = "sessions"
	MsgJoined      = "joined"
	MsgCreated     = "created" // session created, client should navigate
	MsgError       = "error"
	MsgChecked     = "checked" // session check response
	MsgSpawn       = "spawn"
	MsgDespawn     = "despawn"
	MsgSync        = "sync" // one committed field change
	MsgEvent       = "event"
	MsgAuthOK      = "auth_ok"
	MsgProfileData = "profile_data"
	MsgBoard       = "board"
)

// Binary frame kinds, first byte of every binary message
const (
	FrameSnapshot   byte = 0x01
	FrameTransforms byte = 0x02
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages — json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// JoinMsg is sent when player wants to join a session
type JoinMsg struct {
	Name      string `json:"name"`
	SessionID string `json:"sid"`
	Color     *Color `json:"color,omitempty"`
}

// CreateMsg is sent when player wants to create a session
type CreateMsg struct {
	SessionName string `json:"sname"`
}

// InputMsg carries movement intent for the sender's tank
type InputMsg struct {
	E EntityID `json:"e"`
	TankInput
}

// SetNameMsg requests a rename of tank E
type SetNameMsg struct {
	E    EntityID `json:"e"`
	Name string   `json:"name"`
}

// SetColorMsg requests a recolour of tank E
type SetColorMsg struct {
	E EntityID `json:"e"`
	Color
}

// ControlsMsg requests enabling or disabling controls of tank E
type ControlsMsg struct {
	E       EntityID `json:"e"`
	Enabled bool     `json:"enabled"`
}

// FireMsg launches one shell from tank E
type FireMsg struct {
	E   EntityID `json:"e"`
	Alt bool     `json:"alt"`
}

// FieldSet carries the replicated values of an entity. Nil means the
// entity has no such field.
type FieldSet struct {
	Name        *string  `json:"name,omitempty" msgpack:"name,omitempty"`
	Color       *Color   `json:"color,omitempty" msgpack:"color,omitempty"`
	ColoredName *string  `json:"colored_name,omitempty" msgpack:"colored_name,omitempty"`
	Wins        *int     `json:"wins,omitempty" msgpack:"wins,omitempty"`
	Controls    *bool    `json:"controls,omitempty" msgpack:"controls,omitempty"`
	Health      *float64 `json:"health,omitempty" msgpack:"health,omitempty"`
	Alive       *bool    `json:"alive,omitempty" msgpack:"alive,omitempty"`
}

// EntityState announces an entity with its current field values
type EntityState struct {
	ID        EntityID   `json:"e" msgpack:"e"`
	Kind      Kind       `json:"k" msgpack:"k"`
	Tag       Tag        `json:"tag" msgpack:"tag"`
	Owner     ConnID     `json:"owner,omitempty" msgpack:"owner,omitempty"`
	Transform Transform  `json:"tf" msgpack:"tf"`
	Active    bool       `json:"a" msgpack:"a"`
	Shell     *ShellKind `json:"shell,omitempty" msgpack:"shell,omitempty"`
	Fields    FieldSet   `json:"fields" msgpack:"fields"`
}

// DespawnMsg announces removal of an entity
type DespawnMsg struct {
	E EntityID `json:"e"`
}

// SyncIn is the client-side view of a Change
type SyncIn struct {
	E EntityID        `json:"e"`
	F string          `json:"f"`
	O json.RawMessage `json:"o"`
	N json.RawMessage `json:"n"`
}

// MatchState is the replicated state of the match pseudo-entity
type MatchState struct {
	Phase       MatchPhase `json:"phase" msgpack:"phase"`
	Round       int        `json:"round" msgpack:"round"`
	RoundWinner EntityID   `json:"round_winner" msgpack:"round_winner"`
	GameWinner  EntityID   `json:"game_winner" msgpack:"game_winner"`
	Message     string     `json:"message" msgpack:"message"`
	Camera      []EntityID `json:"camera" msgpack:"camera"`
}

// Snapshot is the full state sent to a newly attached observer
type Snapshot struct {
	Tick     uint64        `msgpack:"t"`
	Entities []EntityState `msgpack:"es"`
	Match    MatchState    `msgpack:"m"`
}

// TransformState is one entry of the transform stream
type TransformState struct {
	ID        EntityID  `msgpack:"e"`
	Transform Transform `msgpack:"tf"`
}

// TransformFrame is broadcast at BroadcastRate
type TransformFrame struct {
	Tick  uint64           `msgpack:"t"`
	Items []TransformState `msgpack:"i"`
}

// WelcomeMsg tells a player which tank it owns
type WelcomeMsg struct {
	ID EntityID `json:"id"`
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
	Phase   string `json:"phase"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// CheckMsg is sent by client to check if a session exists
type CheckMsg struct {
	SID string `json:"sid"`
}

// CheckedMsg is the response to a session check
type CheckedMsg struct {
	SID     string `json:"sid"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Players int    `json:"players,omitempty"`
}

// RegisterMsg creates an account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates with a password
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg re-authenticates with a stored token
type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms authentication
type AuthOKMsg struct {
	Token       string `json:"token"`
	Username    string `json:"username"`
	PlayerID    int64  `json:"pid"`
	TankName    string `json:"tank_name"`
	ColoredName string `json:"colored_name"`
	Color       Color  `json:"color"`
}

// ProfileDataMsg is the reply to a profile request
type ProfileDataMsg struct {
	Username    string `json:"username"`
	TankName    string `json:"tank_name"`
	ColoredName string `json:"colored_name"`
	Color       Color  `json:"color"`
	RoundsWon   int    `json:"rounds_won"`
	GamesWon    int    `json:"games_won"`
	GamesPlayed int    `json:"games_played"`
	Kills       int    `json:"kills"`
	Deaths      int    `json:"deaths"`
}
