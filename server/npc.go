package main

import "math/rand/v2"

// NpcManager owns the static enemy tanks of a session
type NpcManager struct {
	dir    *Directory
	count  int
	health float64
	half   float64
	rng    *rand.Rand
}

// NewNpcManager creates a manager placing count enemies inside the arena.
// seed makes placement reproducible.
func NewNpcManager(dir *Directory, cfg MatchConfig, seed uint64) *NpcManager {
	return &NpcManager{
		dir:    dir,
		count:  cfg.NumEnemies,
		health: cfg.EnemyHealth,
		half:   cfg.ArenaHalfSize,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// DespawnEnemies removes every Enemy-tagged entity and returns how many went
func (n *NpcManager) DespawnEnemies() int {
	removed := 0
	for _, id := range n.dir.Query(TagEnemy, false) {
		if n.dir.Despawn(id) {
			removed++
		}
	}
	return removed
}

// RespawnEnemies replaces all enemies with a fresh set at random positions
func (n *NpcManager) RespawnEnemies() []EntityID {
	n.DespawnEnemies()
	ids := make([]EntityID, 0, n.count)
	for i := 0; i < n.count; i++ {
		ids = append(ids, n.spawn())
	}
	return ids
}

func (n *NpcManager) spawn() EntityID {
	tf := Transform{
		Pos: Vec3{
			X: (n.rng.Float64()*2 - 1) * n.half,
			Z: (n.rng.Float64()*2 - 1) * n.half,
		},
		Yaw: n.rng.Float64() * 360,
	}
	return n.dir.Spawn(KindNPC, TagEnemy, "", tf, func(e *Entity) {
		e.DestroyOnDeath = true
		e.Health = NewHealth(e.ID, n.health, n.dir.Sink())
	})
}
