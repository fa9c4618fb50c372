package main

import (
	"database/sql"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// PlayerRow represents an account record in the database
type PlayerRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// StatsRow represents account stats
type StatsRow struct {
	PlayerID    int64
	RoundsWon   int
	GamesWon    int
	GamesPlayed int
	Kills       int
	Deaths      int
}

// MatchResult is one tank's outcome in a finished match
type MatchResult struct {
	PlayerID  int64 // 0 = guest, not persisted
	Kills     int
	Deaths    int
	RoundsWon int
	Won       bool
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS preferences (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		name TEXT NOT NULL,
		color TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stats (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		rounds_won INTEGER NOT NULL DEFAULT 0,
		games_won INTEGER NOT NULL DEFAULT 0,
		games_played INTEGER NOT NULL DEFAULT 0,
		kills INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		rounds INTEGER NOT NULL DEFAULT 0,
		winner_name TEXT NOT NULL DEFAULT '',
		duration REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id INTEGER NOT NULL REFERENCES matches(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		kills INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0,
		rounds_won INTEGER NOT NULL DEFAULT 0,
		won INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player_id INTEGER,
		session_id TEXT,
		data TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_match_players_player ON match_players(player_id);
	CREATE INDEX IF NOT EXISTS idx_players_username ON players(username);
	CREATE INDEX IF NOT EXISTS idx_analytics_type_time ON analytics_events(event_type, created_at);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// CreatePlayer creates a new account (returns player ID)
func (db *DB) CreatePlayer(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO players (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	// Create stats row
	_, err = db.conn.Exec("INSERT INTO stats (player_id) VALUES (?)", id)
	return id, err
}

// GetPlayerByUsername returns an account by username
func (db *DB) GetPlayerByUsername(username string) (*PlayerRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM players WHERE username = ?",
		username,
	)
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM players WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetPreferences returns the saved tank name and colour. ok is false when
// nothing has been saved or the stored colour is unreadable.
func (db *DB) GetPreferences(playerID int64) (name string, c Color, ok bool, err error) {
	var raw string
	err = db.conn.QueryRow(
		"SELECT name, color FROM preferences WHERE player_id = ?", playerID,
	).Scan(&name, &raw)
	if err == sql.ErrNoRows {
		return "", Color{}, false, nil
	}
	if err != nil {
		return "", Color{}, false, err
	}
	c, perr := ParseColor(raw)
	if perr != nil {
		log.Printf("preferences for %d: %v", playerID, perr)
		return name, DefaultTankColor, true, nil
	}
	return name, c, true, nil
}

// SavePreferences stores the tank name and colour ("r,g,b" in 0..255)
func (db *DB) SavePreferences(playerID int64, name string, c Color) error {
	_, err := db.conn.Exec(`
		INSERT INTO preferences (player_id, name, color) VALUES (?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET name = excluded.name, color = excluded.color`,
		playerID, name, c.String(),
	)
	return err
}

// GetStats returns account stats
func (db *DB) GetStats(playerID int64) (*StatsRow, error) {
	row := db.conn.QueryRow(
		"SELECT player_id, rounds_won, games_won, games_played, kills, deaths FROM stats WHERE player_id = ?",
		playerID,
	)
	s := &StatsRow{}
	err := row.Scan(&s.PlayerID, &s.RoundsWon, &s.GamesWon, &s.GamesPlayed, &s.Kills, &s.Deaths)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// RecordMatch stores a finished match and folds each registered player's
// result into their stats, in one transaction.
func (db *DB) RecordMatch(sessionID string, rounds int, winnerName string, duration float64, results []MatchResult) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO matches (session_id, rounds, winner_name, duration) VALUES (?, ?, ?, ?)",
		sessionID, rounds, winnerName, duration,
	)
	if err != nil {
		return err
	}
	matchID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.PlayerID == 0 {
			continue
		}
		won := 0
		if r.Won {
			won = 1
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO match_players (match_id, player_id, kills, deaths, rounds_won, won)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			matchID, r.PlayerID, r.Kills, r.Deaths, r.RoundsWon, won,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			UPDATE stats SET
				rounds_won = rounds_won + ?,
				games_won = games_won + ?,
				games_played = games_played + 1,
				kills = kills + ?,
				deaths = deaths + ?
			WHERE player_id = ?`,
			r.RoundsWon, won, r.Kills, r.Deaths, r.PlayerID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetLeaderboard returns top players sorted by the given field
func (db *DB) GetLeaderboard(orderBy string, limit int) ([]LeaderboardEntry, error) {
	// Whitelist valid order columns
	validCols := map[string]string{
		"games": "s.games_won", "rounds": "s.rounds_won", "kills": "s.kills",
		"kd": "CASE WHEN s.deaths > 0 THEN CAST(s.kills AS REAL)/s.deaths ELSE s.kills END",
	}
	col, ok := validCols[orderBy]
	if !ok {
		col = "s.games_won"
	}

	query := `SELECT p.id, p.username, s.games_won, s.rounds_won, s.games_played, s.kills, s.deaths
		FROM stats s JOIN players p ON p.id = s.player_id
		ORDER BY ` + col + ` DESC, p.id ASC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.Username, &e.GamesWon, &e.RoundsWon, &e.GamesPlayed, &e.Kills, &e.Deaths); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}

// LeaderboardEntry represents one row in the leaderboard
type LeaderboardEntry struct {
	PlayerID    int64  `json:"-"`
	Rank        int    `json:"rank"`
	Username    string `json:"username"`
	GamesWon    int    `json:"games_won"`
	RoundsWon   int    `json:"rounds_won"`
	GamesPlayed int    `json:"games_played"`
	Kills       int    `json:"kills"`
	Deaths      int    `json:"deaths"`
	Online      bool   `json:"online"`
}

// GetSetting returns a stored setting, or "" if unset
func (db *DB) GetSetting(key string) string {
	var v string
	if err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v); err != nil {
		return ""
	}
	return v
}

// SetSetting stores a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}
