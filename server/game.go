package main

import (
	"log"
	"sync"
	"time"
)

const (
	TickRate       = 60 // simulation ticks per second
	BroadcastRate  = 30 // transform frames per second
	TickDuration   = time.Second / TickRate
	BroadcastEvery = TickRate / BroadcastRate
)

const maxProjectilesPerSession = 200

// JoinSeed is the identity a new tank starts with
type JoinSeed struct {
	Name      string
	Color     Color
	AccountID int64 // 0 = guest
}

// tankRecord accumulates per-tank results for persistence
type tankRecord struct {
	account   int64
	name      string
	kills     int
	deaths    int
	roundsWon int
}

// Game is the authority for one session: directory, combat, match and the
// observers attached to it. All state is guarded by mu; the tick loop and
// every command handler take it, so commands apply in arrival order.
type Game struct {
	mu        sync.Mutex
	sessionID string
	cfg       MatchConfig

	repl   *Replicator
	dir    *Directory
	sched  *Scheduler
	combat *Combat
	npcs   *NpcManager
	camera *ObserverGroup
	match  *Match

	clients map[ConnID]Broadcaster
	records map[EntityID]*tankRecord

	db        *DB
	analytics *Analytics

	tick       uint64
	running    bool
	stop       chan struct{}
	nextAnchor int
	startedAt  time.Time
}

// NewGame wires a fresh session. db and analytics may be nil.
func NewGame(sessionID string, cfg MatchConfig, db *DB, analytics *Analytics) *Game {
	g := &Game{
		sessionID: sessionID,
		cfg:       cfg,
		clients:   make(map[ConnID]Broadcaster),
		records:   make(map[EntityID]*tankRecord),
		db:        db,
		analytics: analytics,
		stop:      make(chan struct{}),
	}
	g.repl = NewReplicator()
	g.sched = NewScheduler()
	g.dir = NewDirectory(g.repl)
	g.repl.Bind(g.dir, g.matchState, func() uint64 { return g.tick })
	g.combat = NewCombat(g.dir, g.sched, g.repl, cfg.ArenaHalfSize)
	g.combat.OnDeath = g.onDeath
	g.npcs = NewNpcManager(g.dir, cfg, uint64(time.Now().UnixNano()))
	g.camera = NewObserverGroup(g.repl)
	g.dir.AddListener(g)
	g.match = NewMatch(cfg, g.dir, g.sched, g)
	return g
}

// Run starts the game loop
func (g *Game) Run() {
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.update()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the game loop
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		g.running = false
		close(g.stop)
	}
}

// AddClient attaches an observer and spawns the tank it owns. Returns
// false when the session is full.
func (g *Game) AddClient(conn ConnID, b Broadcaster, seed JoinSeed) (EntityID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.clients[conn]; ok {
		if e, ok := g.dir.OwnedBy(conn); ok {
			return e.ID, true
		}
	}
	if len(g.clients) >= g.cfg.MaxPlayers {
		return NoEntity, false
	}

	g.clients[conn] = b
	g.repl.Attach(conn, b)

	anchor := SpawnAnchor(g.nextAnchor)
	g.nextAnchor++
	var tank *Tank
	id := g.dir.Spawn(KindTank, TagPlayer, conn, anchor, func(e *Entity) {
		e.Health = NewHealth(e.ID, g.cfg.StartingHealth, g.repl)
		tank = NewTank(e, anchor, g.repl, g.repl)
		e.Tank = tank
	})
	tank.Seed(seed.Name, seed.Color)
	g.records[id] = &tankRecord{account: seed.AccountID, name: tank.Name.Get()}
	g.track(EvtPlayerJoin, seed.AccountID, nil)
	log.Printf("session %s: %s joined as tank %d", g.sessionID, conn, id)
	return id, true
}

// RemoveClient detaches an observer. Its tank stays in the arena, orphaned.
func (g *Game) RemoveClient(conn ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[conn]; !ok {
		return
	}
	delete(g.clients, conn)
	g.repl.Detach(conn)
	if e, ok := g.dir.OwnedBy(conn); ok {
		e.Owner = ""
		if e.Tank != nil {
			e.Tank.SetControlsEnabled(false)
		}
		log.Printf("session %s: tank %d orphaned", g.sessionID, e.ID)
	}
}

// ownedTank resolves a command target. Stale ids are dropped silently;
// targets owned by someone else are rejected with a warning.
func (g *Game) ownedTank(conn ConnID, id EntityID, op string) (*Entity, bool) {
	e, ok := g.dir.Get(id)
	if !ok || e.Tank == nil {
		return nil, false
	}
	if e.Owner != conn {
		log.Printf("warn: %s on tank %d from %q rejected: not owner", op, id, conn)
		return nil, false
	}
	return e, true
}

// HandleInput stores movement intent. Ignored while controls are disabled.
func (g *Game) HandleInput(conn ConnID, msg InputMsg) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.ownedTank(conn, msg.E, "input")
	if !ok || !e.Tank.Controls.Get() {
		return
	}
	e.Tank.Input = msg.TankInput
}

// HandleSetName forwards a rename request to the tank
func (g *Game) HandleSetName(conn ConnID, msg SetNameMsg) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.dir.Get(msg.E)
	if !ok || e.Tank == nil {
		return false
	}
	if !e.Tank.RequestSetName(conn, msg.Name) {
		return false
	}
	if r := g.records[e.ID]; r != nil {
		r.name = e.Tank.Name.Get()
	}
	return true
}

// HandleSetColor forwards a recolour request to the tank
func (g *Game) HandleSetColor(conn ConnID, msg SetColorMsg) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.dir.Get(msg.E)
	if !ok || e.Tank == nil {
		return false
	}
	return e.Tank.RequestSetColor(conn, msg.Color)
}

// HandleControls forwards a controls toggle to the tank
func (g *Game) HandleControls(conn ConnID, msg ControlsMsg) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.dir.Get(msg.E)
	if !ok || e.Tank == nil {
		return false
	}
	return e.Tank.RequestSetControlsEnabled(conn, msg.Enabled, g.match.Phase.Get() == PhasePlaying)
}

// HandleFire launches a shell from the sender's tank
func (g *Game) HandleFire(conn ConnID, msg FireMsg) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.ownedTank(conn, msg.E, "fire")
	if !ok {
		return false
	}
	return g.fire(e, msg.Alt)
}

// Identity returns the committed name and colour of a tank
func (g *Game) Identity(id EntityID) (string, Color, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.dir.Get(id)
	if !ok || e.Tank == nil {
		return "", Color{}, false
	}
	return e.Tank.Name.Get(), e.Tank.Color.Get(), true
}

// PlayerCount returns the number of attached connections
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Phase returns the current match phase
func (g *Game) Phase() MatchPhase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.match.Phase.Get()
}

func (g *Game) fire(e *Entity, alt bool) bool {
	t := e.Tank
	if !t.CanFire() {
		return false
	}
	if len(g.dir.QueryKind(KindProjectile)) >= maxProjectilesPerSession {
		return false
	}
	kind := ShellStandard
	if alt {
		kind = ShellAlt
	}
	g.combat.FireProjectile(e.ID, t.Muzzle(), kind)
	t.FireCD = FireCooldown
	return true
}

// update runs one game tick
func (g *Game) update() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.step()
}

func (g *Game) step() {
	dt := TickDuration.Seconds()
	g.tick++
	g.sched.Advance(TickDuration)

	for _, id := range g.dir.QueryKind(KindTank) {
		e, ok := g.dir.Get(id)
		if !ok {
			continue
		}
		e.Tank.Update(dt, g.cfg.ArenaHalfSize)
		if in := e.Tank.Input; in.Fire || in.Alt {
			g.fire(e, in.Alt)
		}
	}

	g.combat.Step(dt)
	g.match.Tick()

	if g.tick%BroadcastEvery == 0 {
		g.repl.BroadcastTransforms()
	}
}

func (g *Game) matchState() MatchState {
	return MatchState{
		Phase:       g.match.Phase.Get(),
		Round:       g.match.Round.Get(),
		RoundWinner: g.match.RoundWinner.Get(),
		GameWinner:  g.match.GameWinner.Get(),
		Message:     g.match.Message.Get(),
		Camera:      g.camera.Members(),
	}
}

func (g *Game) refreshCamera() {
	current := append(g.dir.Query(TagPlayer, true), g.dir.Query(TagEnemy, true)...)
	g.camera.UpdateMembership(current)
}

func (g *Game) EntitySpawned(e *Entity) {
	if e.Tag != TagNeutral {
		g.refreshCamera()
	}
}

func (g *Game) EntityDespawned(e *Entity) {
	if e.Tag != TagNeutral {
		g.refreshCamera()
	}
	delete(g.records, e.ID)
}

func (g *Game) onDeath(victim *Entity, killer EntityID) {
	g.refreshCamera()
	if victim.Tank == nil {
		return
	}
	if r := g.records[victim.ID]; r != nil {
		r.deaths++
		g.track(EvtTankDestroyed, r.account, tankDestroyedData{Victim: victim.ID, Killer: killer})
	}
	if killer != victim.ID {
		if r := g.records[killer]; r != nil {
			r.kills++
		}
	}
}

func (g *Game) track(evt string, account int64, data any) {
	if g.analytics != nil {
		g.analytics.Track(evt, account, g.sessionID, data)
	}
}

// --- Arena, driven by the match ---

func (g *Game) ActiveConnections() int {
	return len(g.clients)
}

func (g *Game) RespawnTanks() {
	for _, id := range g.dir.Query(TagPlayer, false) {
		if e, ok := g.dir.Get(id); ok && e.Tank != nil {
			e.Tank.Respawn()
		}
	}
	g.refreshCamera()
	if g.match.Round.Get() == 0 {
		g.startedAt = time.Now()
		g.track(EvtMatchStart, 0, matchStartData{Players: len(g.clients)})
	}
}

func (g *Game) RespawnEnemies() {
	g.npcs.RespawnEnemies()
}

func (g *Game) SetControls(enabled bool) {
	for _, id := range g.dir.Query(TagPlayer, false) {
		if e, ok := g.dir.Get(id); ok && e.Tank != nil {
			e.Tank.SetControlsEnabled(enabled)
		}
	}
}

func (g *Game) ResetArena() {
	g.npcs.DespawnEnemies()
	for _, id := range g.dir.QueryKind(KindProjectile) {
		g.dir.Despawn(id)
	}
	for _, e := range g.dir.Entities() {
		if e.Orphaned() {
			g.dir.Despawn(e.ID)
		}
	}
}

func (g *Game) RoundEnded(round int, winner EntityID) {
	var account int64
	if r := g.records[winner]; r != nil {
		r.roundsWon++
		account = r.account
	}
	g.track(EvtRoundEnd, account, roundEndData{Round: round, Winner: winner})
}

func (g *Game) Finish(winner EntityID) {
	name := g.match.coloredName(winner)
	g.repl.Notify(Event{Kind: EventFinished, Winner: winner, Text: name})
	g.persistResults(winner)

	for conn, b := range g.clients {
		b.Disconnect()
		g.repl.Detach(conn)
		delete(g.clients, conn)
	}
	for _, id := range g.dir.QueryKind(KindTank) {
		g.dir.Despawn(id)
	}
	log.Printf("session %s: match finished, winner tank %d", g.sessionID, winner)
}

// persistResults writes stats and the match row off the game goroutine
func (g *Game) persistResults(winner EntityID) {
	var winnerName string
	if r := g.records[winner]; r != nil {
		winnerName = r.name
	}
	results := make([]MatchResult, 0, len(g.records))
	for id, r := range g.records {
		results = append(results, MatchResult{
			PlayerID:  r.account,
			Kills:     r.kills,
			Deaths:    r.deaths,
			RoundsWon: r.roundsWon,
			Won:       id == winner,
		})
	}
	duration := time.Since(g.startedAt).Seconds()
	rounds := g.match.Round.Get()
	g.track(EvtMatchEnd, 0, matchEndData{Rounds: rounds, Duration: duration})
	if g.db == nil {
		return
	}
	db, sid := g.db, g.sessionID
	go func() {
		if err := db.RecordMatch(sid, rounds, winnerName, duration, results); err != nil {
			log.Printf("record match error: %v", err)
		}
	}()
}
