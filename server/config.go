package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration. Flags win over environment
// variables, which win over defaults. A .env file in the working directory
// is loaded into the environment first.
type Config struct {
	Addr      string
	ClientDir string
	DBPath    string
	PublicURL string

	// Bot mode: dial this WebSocket URL instead of serving
	Bot        string
	BotSession string
	BotName    string

	Match MatchConfig
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("warn: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("warn: %s=%q is not a number, using %g", key, v, def)
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("warn: %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}

// LoadConfig reads .env, the environment and args (without the program name)
func LoadConfig(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	def := DefaultConfig()
	cfg := Config{}
	fset := flag.NewFlagSet("tankarena", flag.ContinueOnError)
	fset.StringVar(&cfg.Addr, "addr", envOr("TANK_ADDR", ":8080"), "HTTP listen address")
	fset.StringVar(&cfg.ClientDir, "client", envOr("TANK_CLIENT_DIR", ""), "Path to client directory (default: ../client)")
	fset.StringVar(&cfg.DBPath, "db", envOr("TANK_DB", "tankarena.db"), "SQLite database path, empty disables persistence")
	fset.StringVar(&cfg.PublicURL, "public-url", envOr("TANK_PUBLIC_URL", "http://localhost:8080"), "Base URL encoded in join QR codes")
	fset.StringVar(&cfg.Bot, "bot", envOr("TANK_BOT", ""), "Run as a bot against this ws:// URL")
	fset.StringVar(&cfg.BotSession, "sid", envOr("TANK_BOT_SESSION", ""), "Session for the bot to join (empty creates one)")
	fset.StringVar(&cfg.BotName, "name", envOr("TANK_BOT_NAME", "Bot"), "Bot tank name")

	m := &cfg.Match
	fset.IntVar(&m.RoundsToWin, "rounds", envInt("TANK_ROUNDS_TO_WIN", def.RoundsToWin), "Rounds needed to win the game")
	fset.DurationVar(&m.StartDelay, "start-delay", envDuration("TANK_START_DELAY", def.StartDelay), "Countdown before a round")
	fset.DurationVar(&m.EndDelay, "end-delay", envDuration("TANK_END_DELAY", def.EndDelay), "Pause after a round")
	fset.DurationVar(&m.FinishDelay, "finish-delay", envDuration("TANK_FINISH_DELAY", def.FinishDelay), "Pause before disconnecting after the game")
	fset.IntVar(&m.MinPlayers, "min-players", envInt("TANK_MIN_PLAYERS", def.MinPlayers), "Connections needed to start")
	fset.IntVar(&m.MaxPlayers, "max-players", envInt("TANK_MAX_PLAYERS", def.MaxPlayers), "Connections allowed per session")
	fset.IntVar(&m.NumEnemies, "enemies", envInt("TANK_ENEMIES", def.NumEnemies), "Static enemy tanks per round")
	fset.Float64Var(&m.StartingHealth, "health", envFloat("TANK_HEALTH", def.StartingHealth), "Tank starting health")
	fset.Float64Var(&m.EnemyHealth, "enemy-health", envFloat("TANK_ENEMY_HEALTH", def.EnemyHealth), "Enemy starting health")
	fset.Float64Var(&m.ArenaHalfSize, "arena", envFloat("TANK_ARENA_HALF_SIZE", def.ArenaHalfSize), "Half the arena side length")

	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	if err := m.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the match cannot run with
func (m MatchConfig) Validate() error {
	switch {
	case m.RoundsToWin < 1:
		return fmt.Errorf("rounds to win must be at least 1, got %d", m.RoundsToWin)
	case m.MinPlayers < 2:
		// one connection alone is already a decided round
		return fmt.Errorf("min players must be at least 2, got %d", m.MinPlayers)
	case m.MaxPlayers < m.MinPlayers:
		return fmt.Errorf("max players %d below min players %d", m.MaxPlayers, m.MinPlayers)
	case m.NumEnemies < 0:
		return fmt.Errorf("enemy count must not be negative, got %d", m.NumEnemies)
	case m.StartingHealth <= 0 || m.EnemyHealth <= 0:
		return fmt.Errorf("health must be positive")
	case m.ArenaHalfSize <= 0:
		return fmt.Errorf("arena half size must be positive, got %g", m.ArenaHalfSize)
	case m.StartDelay < 0 || m.EndDelay < 0 || m.FinishDelay < 0:
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}
