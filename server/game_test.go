package main

import (
	"sync"
	"testing"
	"time"
)

// mockBroadcaster captures sent messages for testing
type mockBroadcaster struct {
	mu           sync.Mutex
	messages     []interface{}
	binary       [][]byte
	disconnected bool
}

func (m *mockBroadcaster) SendJSON(msg interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockBroadcaster) SendBinary(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binary = append(m.binary, data)
}

func (m *mockBroadcaster) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

// events returns the presentation events received so far
func (m *mockBroadcaster) events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, msg := range m.messages {
		if env, ok := msg.(Envelope); ok && env.T == MsgEvent {
			out = append(out, env.Data.(Event))
		}
	}
	return out
}

func testMatchConfig() MatchConfig {
	cfg := DefaultConfig()
	cfg.StartDelay = 100 * time.Millisecond
	cfg.EndDelay = 100 * time.Millisecond
	cfg.FinishDelay = 100 * time.Millisecond
	cfg.NumEnemies = 0
	return cfg
}

// runFor advances the game by at least d of simulated time
func runFor(g *Game, d time.Duration) {
	for n := int(d/TickDuration) + 1; n > 0; n-- {
		g.update()
	}
}

func joinTwo(t *testing.T, g *Game) (EntityID, EntityID, *mockBroadcaster, *mockBroadcaster) {
	t.Helper()
	m1, m2 := &mockBroadcaster{}, &mockBroadcaster{}
	a, ok := g.AddClient("c1", m1, JoinSeed{Name: "Ann", Color: Color{R: 1}})
	if !ok {
		t.Fatal("first join failed")
	}
	b, ok := g.AddClient("c2", m2, JoinSeed{Name: "Bob", Color: Color{G: 1}})
	if !ok {
		t.Fatal("second join failed")
	}
	return a, b, m1, m2
}

func TestGameAddRemoveClient(t *testing.T) {
	g := NewGame("s1", testMatchConfig(), nil, nil)
	m := &mockBroadcaster{}
	id, ok := g.AddClient("c1", m, JoinSeed{Name: "TestPilot", Color: Color{B: 1}})
	if !ok {
		t.Fatal("join should succeed")
	}
	if g.PlayerCount() != 1 {
		t.Errorf("expected 1 player, got %d", g.PlayerCount())
	}
	if name, _, ok := g.Identity(id); !ok || name != "TestPilot" {
		t.Errorf("expected name TestPilot, got %q", name)
	}
	if len(m.binary) != 1 || m.binary[0][0] != FrameSnapshot {
		t.Error("joining client should receive a snapshot")
	}

	// Joining twice returns the same tank
	if again, _ := g.AddClient("c1", m, JoinSeed{}); again != id {
		t.Errorf("expected same tank %d, got %d", id, again)
	}

	g.RemoveClient("c1")
	if g.PlayerCount() != 0 {
		t.Errorf("expected 0 players, got %d", g.PlayerCount())
	}
	g.mu.Lock()
	e, ok := g.dir.Get(id)
	g.mu.Unlock()
	if !ok || !e.Orphaned() {
		t.Error("tank should stay behind, orphaned")
	}
}

func TestGameSessionFull(t *testing.T) {
	cfg := testMatchConfig()
	cfg.MaxPlayers = 2
	g := NewGame("s1", cfg, nil, nil)
	joinTwo(t, g)
	if _, ok := g.AddClient("c3", &mockBroadcaster{}, JoinSeed{}); ok {
		t.Error("third join should be refused")
	}
}

func TestGameMatchStartsAndEnablesControls(t *testing.T) {
	g := NewGame("s1", testMatchConfig(), nil, nil)
	a, _, _, _ := joinTwo(t, g)

	g.update()
	if g.Phase() != PhaseStarting {
		t.Fatalf("expected starting, got %s", g.Phase())
	}
	g.HandleInput("c1", InputMsg{E: a, TankInput: TankInput{Move: 1}})
	g.mu.Lock()
	e, _ := g.dir.Get(a)
	moved := e.Tank.Input.Move
	g.mu.Unlock()
	if moved != 0 {
		t.Error("input should be ignored while controls are off")
	}

	runFor(g, 100*time.Millisecond)
	if g.Phase() != PhasePlaying {
		t.Fatalf("expected playing, got %s", g.Phase())
	}
	start := SpawnAnchor(0).Pos
	g.HandleInput("c1", InputMsg{E: a, TankInput: TankInput{Move: 1}})
	runFor(g, 100*time.Millisecond)
	g.mu.Lock()
	pos := e.Transform.Pos
	g.mu.Unlock()
	if Distance(start, pos) < 1 {
		t.Errorf("tank should have moved from %+v, at %+v", start, pos)
	}
}

func TestGameCommandsCheckOwnership(t *testing.T) {
	g := NewGame("s1", testMatchConfig(), nil, nil)
	a, b, _, _ := joinTwo(t, g)
	g.update()
	runFor(g, 100*time.Millisecond)

	if g.HandleSetName("c2", SetNameMsg{E: a, Name: "Mallory"}) {
		t.Error("rename of another player's tank should fail")
	}
	if g.HandleFire("c2", FireMsg{E: a}) {
		t.Error("firing another player's tank should fail")
	}
	if g.HandleFire("c2", FireMsg{E: 999}) {
		t.Error("firing an unknown tank should fail")
	}
	if !g.HandleFire("c2", FireMsg{E: b}) {
		t.Error("owner should be able to fire")
	}
	if g.HandleFire("c2", FireMsg{E: b}) {
		t.Error("second shot inside the cooldown should fail")
	}
	if !g.HandleSetColor("c1", SetColorMsg{E: a, Color: Color{R: 1, G: 1}}) {
		t.Error("owner recolor should succeed")
	}
	if _, c, _ := g.Identity(a); c != (Color{R: 1, G: 1}) {
		t.Errorf("expected yellow, got %+v", c)
	}
}

func TestGameLateJoinerWaits(t *testing.T) {
	g := NewGame("s1", testMatchConfig(), nil, nil)
	joinTwo(t, g)
	g.update()
	runFor(g, 100*time.Millisecond)

	late, ok := g.AddClient("c3", &mockBroadcaster{}, JoinSeed{Name: "Cat"})
	if !ok {
		t.Fatal("late join failed")
	}
	g.mu.Lock()
	e, _ := g.dir.Get(late)
	controls := e.Tank.Controls.Get()
	g.mu.Unlock()
	if controls {
		t.Error("late joiner should start with controls off")
	}
}

func TestGamePlaysToFinish(t *testing.T) {
	cfg := testMatchConfig()
	cfg.RoundsToWin = 1
	g := NewGame("s1", cfg, nil, nil)
	a, b, m1, m2 := joinTwo(t, g)
	g.update()
	runFor(g, cfg.StartDelay)

	g.mu.Lock()
	g.combat.ApplyDamage(b, 1000)
	g.mu.Unlock()
	g.update()
	if g.Phase() != PhaseEnding {
		t.Fatalf("expected ending, got %s", g.Phase())
	}
	g.mu.Lock()
	winner := g.match.GameWinner.Get()
	g.mu.Unlock()
	if winner != a {
		t.Errorf("expected game winner %d, got %d", a, winner)
	}

	runFor(g, cfg.EndDelay)
	if g.Phase() != PhaseFinished {
		t.Fatalf("expected finished, got %s", g.Phase())
	}
	runFor(g, cfg.FinishDelay)
	if g.Phase() != PhaseAwaitingPlayers {
		t.Errorf("expected reset after finish, got %s", g.Phase())
	}
	if !m1.disconnected || !m2.disconnected {
		t.Error("every client should be disconnected after the game")
	}
	if g.PlayerCount() != 0 {
		t.Errorf("expected no players, got %d", g.PlayerCount())
	}
	g.mu.Lock()
	left := g.dir.Len()
	g.mu.Unlock()
	if left != 0 {
		t.Errorf("expected an empty arena, %d entities left", left)
	}

	var finished, destroyed int
	for _, ev := range m2.events() {
		switch ev.Kind {
		case EventFinished:
			finished++
			if ev.Winner != a {
				t.Errorf("finished event names %d, expected %d", ev.Winner, a)
			}
		case EventExplosion:
			destroyed++
		}
	}
	if finished != 1 || destroyed != 1 {
		t.Errorf("expected 1 finished and 1 explosion event, got %d and %d", finished, destroyed)
	}
}

func TestGameResetWhenEveryoneLeaves(t *testing.T) {
	g := NewGame("s1", testMatchConfig(), nil, nil)
	joinTwo(t, g)
	g.update()
	g.RemoveClient("c1")
	g.RemoveClient("c2")
	g.update()
	if g.Phase() != PhaseAwaitingPlayers {
		t.Errorf("expected awaiting players, got %s", g.Phase())
	}
	g.mu.Lock()
	left := g.dir.Len()
	g.mu.Unlock()
	if left != 0 {
		t.Errorf("orphaned tanks should be cleared, %d left", left)
	}
}

func TestGameKeepsResultWhenEveryoneLeavesAtFinish(t *testing.T) {
	cfg := testMatchConfig()
	cfg.RoundsToWin = 1
	db := openTestDB(t)
	ann, err := db.CreatePlayer("ann", "")
	if err != nil {
		t.Fatal(err)
	}
	g := NewGame("s1", cfg, db, nil)
	m1, m2 := &mockBroadcaster{}, &mockBroadcaster{}
	a, _ := g.AddClient("c1", m1, JoinSeed{Name: "Ann", Color: Color{R: 1}, AccountID: ann})
	b, _ := g.AddClient("c2", m2, JoinSeed{Name: "Bob", Color: Color{G: 1}})
	g.update()
	runFor(g, cfg.StartDelay)
	g.mu.Lock()
	g.combat.ApplyDamage(b, 1000)
	g.mu.Unlock()
	g.update()
	runFor(g, cfg.EndDelay)
	if g.Phase() != PhaseFinished {
		t.Fatalf("expected finished, got %s", g.Phase())
	}

	g.RemoveClient("c1")
	g.RemoveClient("c2")
	g.update()
	if g.Phase() != PhaseAwaitingPlayers {
		t.Fatalf("expected awaiting players, got %s", g.Phase())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s, err := db.GetStats(ann)
		if err != nil {
			t.Fatal(err)
		}
		if s != nil && s.GamesWon == 1 {
			if s.RoundsWon != 1 || s.GamesPlayed != 1 {
				t.Errorf("expected 1 round and 1 game played, got %+v", s)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the decided game to be recorded for tank %d, got %+v", a, s)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
