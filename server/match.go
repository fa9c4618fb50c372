package main

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// MatchPhase represents the lifecycle of a match
type MatchPhase int

const (
	PhaseAwaitingPlayers MatchPhase = 0
	PhaseStarting        MatchPhase = 1
	PhasePlaying         MatchPhase = 2
	PhaseEnding          MatchPhase = 3
	PhaseFinished        MatchPhase = 4
)

func (p MatchPhase) String() string {
	switch p {
	case PhaseAwaitingPlayers:
		return "awaiting_players"
	case PhaseStarting:
		return "starting"
	case PhasePlaying:
		return "playing"
	case PhaseEnding:
		return "ending"
	case PhaseFinished:
		return "finished"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

const (
	FieldPhase       = "phase"
	FieldRound       = "round"
	FieldRoundWinner = "round_winner"
	FieldGameWinner  = "game_winner"
	FieldMessage     = "message"
)

const (
	waitingMessage = "Waiting for players..."
	blinkInterval  = 500 * time.Millisecond
)

// MatchConfig holds settings for a match
type MatchConfig struct {
	RoundsToWin    int
	StartDelay     time.Duration
	EndDelay       time.Duration
	FinishDelay    time.Duration
	MinPlayers     int
	NumEnemies     int
	StartingHealth float64
	EnemyHealth    float64
	ArenaHalfSize  float64
	MaxPlayers     int
}

// DefaultConfig returns the standard best-of-nine arena settings
func DefaultConfig() MatchConfig {
	return MatchConfig{
		RoundsToWin:    5,
		StartDelay:     3 * time.Second,
		EndDelay:       3 * time.Second,
		FinishDelay:    3 * time.Second,
		MinPlayers:     2,
		NumEnemies:     4,
		StartingHealth: 100,
		EnemyHealth:    100,
		ArenaHalfSize:  40,
		MaxPlayers:     8,
	}
}

// Arena is the part of the session the match drives
type Arena interface {
	ActiveConnections() int
	RespawnTanks()
	RespawnEnemies()
	SetControls(enabled bool)
	// ResetArena despawns enemies, shells and orphaned tanks
	ResetArena()
	RoundEnded(round int, winner EntityID)
	// Finish disconnects every observer and tears their tanks down
	Finish(winner EntityID)
}

// Match is the authoritative round/game state machine. Phase changes are
// driven by Tick and by scheduler continuations; the pending continuation is
// kept as a TimerID so a reset can cancel it mid-sequence.
type Match struct {
	cfg   MatchConfig
	dir   *Directory
	sched *Scheduler
	arena Arena

	Phase       *Replicated[MatchPhase]
	Round       *Replicated[int]
	RoundWinner *Replicated[EntityID]
	GameWinner  *Replicated[EntityID]
	Message     *Replicated[string]

	started bool
	pending TimerID
	blink   TimerID
}

func NewMatch(cfg MatchConfig, dir *Directory, sched *Scheduler, arena Arena) *Match {
	sink := dir.Sink()
	m := &Match{
		cfg:         cfg,
		dir:         dir,
		sched:       sched,
		arena:       arena,
		Phase:       NewReplicated[MatchPhase](NoEntity, FieldPhase, sink),
		Round:       NewReplicated[int](NoEntity, FieldRound, sink),
		RoundWinner: NewReplicated[EntityID](NoEntity, FieldRoundWinner, sink),
		GameWinner:  NewReplicated[EntityID](NoEntity, FieldGameWinner, sink),
		Message:     NewReplicated[string](NoEntity, FieldMessage, sink),
	}
	m.Phase.Init(PhaseAwaitingPlayers)
	m.Round.Init(0)
	m.RoundWinner.Init(NoEntity)
	m.GameWinner.Init(NoEntity)
	m.Message.Init(waitingMessage)
	m.startBlink()
	return m
}

// Pending returns the scheduled phase continuation, or zero
func (m *Match) Pending() TimerID {
	return m.pending
}

// Tick re-evaluates the per-tick conditions: total disconnection, the
// player threshold while waiting and the round-over check while playing.
func (m *Match) Tick() {
	if m.arena.ActiveConnections() == 0 && (m.started || m.dir.Len() > 0) {
		m.Reset()
		return
	}
	switch m.Phase.Get() {
	case PhaseAwaitingPlayers:
		if m.dir.CountOwners() >= m.cfg.MinPlayers {
			m.enterStarting()
		}
	case PhasePlaying:
		if m.RoundOver() {
			m.enterEnding()
		}
	}
}

// RoundOver reports whether the current round has been decided
func (m *Match) RoundOver() bool {
	if m.arena.ActiveConnections() == 1 {
		return true
	}
	players := len(m.dir.Query(TagPlayer, true))
	enemies := len(m.dir.Query(TagEnemy, true))
	return players == 0 || (players == 1 && enemies == 0)
}

// Reset returns to AwaitingPlayers, cancelling any in-flight continuation.
// A game that was already decided still finishes so its result is kept.
func (m *Match) Reset() {
	if m.pending != 0 {
		m.sched.Cancel(m.pending)
		m.pending = 0
		if w := m.GameWinner.Get(); w != NoEntity {
			m.arena.Finish(w)
		}
	}
	m.started = false
	m.arena.ResetArena()
	m.arena.SetControls(false)
	m.Round.Set(0)
	m.RoundWinner.Set(NoEntity)
	m.GameWinner.Set(NoEntity)
	m.Phase.Set(PhaseAwaitingPlayers)
	m.Message.Set(waitingMessage)
	m.startBlink()
	log.Printf("match reset")
}

func (m *Match) startBlink() {
	m.stopBlink()
	m.blink = m.sched.After(blinkInterval, m.toggleBlink)
}

func (m *Match) stopBlink() {
	if m.blink != 0 {
		m.sched.Cancel(m.blink)
		m.blink = 0
	}
}

func (m *Match) toggleBlink() {
	if m.Message.Get() == "" {
		m.Message.Set(waitingMessage)
	} else {
		m.Message.Set("")
	}
	m.blink = m.sched.After(blinkInterval, m.toggleBlink)
}

func (m *Match) schedule(d time.Duration, next func()) {
	m.pending = m.sched.After(d, func() {
		m.pending = 0
		next()
	})
}

func (m *Match) enterStarting() {
	m.stopBlink()
	m.started = true
	m.arena.SetControls(false)
	m.arena.RespawnEnemies()
	m.arena.RespawnTanks()
	round := m.Round.Get() + 1
	m.Round.Set(round)
	m.RoundWinner.Set(NoEntity)
	m.Phase.Set(PhaseStarting)
	m.Message.Set(fmt.Sprintf("ROUND %d", round))
	log.Printf("match: round %d starting", round)
	m.schedule(m.cfg.StartDelay, m.enterPlaying)
}

func (m *Match) enterPlaying() {
	m.Phase.Set(PhasePlaying)
	m.arena.SetControls(true)
	m.Message.Set("")
}

func (m *Match) enterEnding() {
	m.Phase.Set(PhaseEnding)
	m.arena.SetControls(false)

	winner := m.firstAlivePlayer()
	m.RoundWinner.Set(winner)
	if e, ok := m.dir.Get(winner); ok && e.Tank != nil {
		e.Tank.Wins.Set(e.Tank.Wins.Get() + 1)
	}
	gameWinner := m.gameWinner()
	m.GameWinner.Set(gameWinner)
	m.Message.Set(m.endMessage(winner, gameWinner))
	m.arena.RoundEnded(m.Round.Get(), winner)
	log.Printf("match: round %d over, winner=%d game_winner=%d", m.Round.Get(), winner, gameWinner)

	m.schedule(m.cfg.EndDelay, func() {
		if m.GameWinner.Get() != NoEntity {
			m.enterFinished()
		} else {
			m.enterStarting()
		}
	})
}

func (m *Match) enterFinished() {
	winner := m.GameWinner.Get()
	m.Phase.Set(PhaseFinished)
	m.schedule(m.cfg.FinishDelay, func() {
		m.arena.Finish(winner)
		m.Reset()
	})
}

// firstAlivePlayer picks the round winner: the first alive Player entity in
// directory insertion order.
func (m *Match) firstAlivePlayer() EntityID {
	if ids := m.dir.Query(TagPlayer, true); len(ids) > 0 {
		return ids[0]
	}
	return NoEntity
}

// gameWinner resolves the game winner right after a round. A lone remaining
// connection wins outright; otherwise the first alive player at RoundsToWin.
func (m *Match) gameWinner() EntityID {
	if m.arena.ActiveConnections() == 1 {
		for _, id := range m.dir.Query(TagPlayer, false) {
			if e, _ := m.dir.Get(id); e.Owner != "" {
				return id
			}
		}
		return NoEntity
	}
	for _, id := range m.dir.Query(TagPlayer, true) {
		if e, _ := m.dir.Get(id); e.Tank != nil && e.Tank.Wins.Get() == m.cfg.RoundsToWin {
			return id
		}
	}
	return NoEntity
}

func (m *Match) coloredName(id EntityID) string {
	if e, ok := m.dir.Get(id); ok && e.Tank != nil {
		return e.Tank.ColoredName.Get()
	}
	return ""
}

func (m *Match) endMessage(roundWinner, gameWinner EntityID) string {
	if gameWinner != NoEntity {
		return m.coloredName(gameWinner) + " WINS THE GAME!"
	}
	var b strings.Builder
	if roundWinner != NoEntity {
		b.WriteString(m.coloredName(roundWinner) + " WINS THE ROUND!")
	} else {
		b.WriteString("DRAW!")
	}
	b.WriteString("\n\n\n\n")
	for _, id := range m.dir.Query(TagPlayer, false) {
		if e, _ := m.dir.Get(id); e.Tank != nil {
			fmt.Fprintf(&b, "%s: %d WINS\n", e.Tank.ColoredName.Get(), e.Tank.Wins.Get())
		}
	}
	return b.String()
}
