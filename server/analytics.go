package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Analytics event kinds
const (
	EvtSessionStart  = "session_start"
	EvtSessionEnd    = "session_end"
	EvtPlayerJoin    = "player_join"
	EvtMatchStart    = "match_start"
	EvtRoundEnd      = "round_end"
	EvtTankDestroyed = "tank_destroyed"
	EvtMatchEnd      = "match_end"
)

const (
	analyticsQueueLen   = 1024
	analyticsBatchLen   = 50
	analyticsFlushEvery = 5 * time.Second
)

// Payloads stored in analytics_events.data
type matchStartData struct {
	Players int `json:"players"`
}

type roundEndData struct {
	Round  int      `json:"round"`
	Winner EntityID `json:"winner"`
}

type tankDestroyedData struct {
	Victim EntityID `json:"victim"`
	Killer EntityID `json:"killer"`
}

type matchEndData struct {
	Rounds   int     `json:"rounds"`
	Duration float64 `json:"duration"`
}

type trackedEvent struct {
	kind    string
	account int64
	session string
	data    any
	at      time.Time
}

// LiveMetrics are the gauges shown next to the stored history
type LiveMetrics struct {
	Peers    int64 `json:"peers"`
	Sessions int64 `json:"active_sessions"`
	Dropped  int64 `json:"dropped_events"`
}

// Analytics records arena telemetry. Track never blocks the game loop: events
// queue to a writer goroutine that inserts them in batches.
type Analytics struct {
	db    *DB
	queue chan trackedEvent
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	peers    atomic.Int64
	sessions atomic.Int64
	dropped  atomic.Int64
}

func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:    db,
		queue: make(chan trackedEvent, analyticsQueueLen),
		stop:  make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Track queues an event; data, when non-nil, is stored as JSON. A full
// queue drops the event and counts it.
func (a *Analytics) Track(kind string, account int64, session string, data any) {
	select {
	case a.queue <- trackedEvent{kind: kind, account: account, session: session, data: data, at: time.Now().UTC()}:
	default:
		a.dropped.Add(1)
	}
}

func (a *Analytics) SetConcurrentPeers(n int) { a.peers.Store(int64(n)) }

func (a *Analytics) SetActiveSessions(n int) { a.sessions.Store(int64(n)) }

func (a *Analytics) Live() LiveMetrics {
	return LiveMetrics{Peers: a.peers.Load(), Sessions: a.sessions.Load(), Dropped: a.dropped.Load()}
}

// Stop flushes what is queued and waits for the writer. Safe to call twice.
func (a *Analytics) Stop() {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
}

func (a *Analytics) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(analyticsFlushEvery)
	defer ticker.Stop()

	batch := make([]trackedEvent, 0, analyticsBatchLen)
	flush := func() {
		if len(batch) > 0 {
			a.write(batch)
			batch = batch[:0]
		}
	}
	for {
		select {
		case ev := <-a.queue:
			batch = append(batch, ev)
			if len(batch) >= analyticsBatchLen {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stop:
			for len(a.queue) > 0 {
				batch = append(batch, <-a.queue)
			}
			flush()
			return
		}
	}
}

func (a *Analytics) write(events []trackedEvent) {
	if a.db == nil {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		log.Printf("analytics: begin: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, player_id, session_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("analytics: prepare: %v", err)
		return
	}
	defer stmt.Close()

	for _, ev := range events {
		var data sql.NullString
		if ev.data != nil {
			raw, err := json.Marshal(ev.data)
			if err != nil {
				log.Printf("analytics: %s payload: %v", ev.kind, err)
				continue
			}
			data = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.Exec(ev.kind,
			sql.NullInt64{Int64: ev.account, Valid: ev.account > 0},
			sql.NullString{String: ev.session, Valid: ev.session != ""},
			data, ev.at.Format(time.RFC3339)); err != nil {
			log.Printf("analytics: insert %s: %v", ev.kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("analytics: commit: %v", err)
	}
}

// PilotsToday counts distinct registered players seen since midnight UTC
func (a *Analytics) PilotsToday() (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var n int
	err := a.db.conn.QueryRow(`
		SELECT COUNT(DISTINCT player_id) FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now')
	`).Scan(&n)
	return n, err
}

// EventCounts returns how often each event kind occurred in the last days
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY event_type
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// DayCount is one day of a daily series
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// RoundsHistory counts decided rounds per day over the last days
func (a *Analytics) RoundsHistory(days int) ([]DayCount, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT date(created_at) AS day, COUNT(*) FROM analytics_events
		WHERE event_type = ? AND created_at >= date('now', '-' || ? || ' days')
		GROUP BY day ORDER BY day
	`, EvtRoundEnd, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}
