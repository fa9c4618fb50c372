package main

import (
	"encoding/json"
	"testing"
)

func TestAnalyticsStoresTypedPayloads(t *testing.T) {
	db := openTestDB(t)
	a := NewAnalytics(db)
	a.Track(EvtRoundEnd, 7, "s1", roundEndData{Round: 2, Winner: 3})
	a.Track(EvtTankDestroyed, 0, "s1", tankDestroyedData{Victim: 4, Killer: 3})
	a.Track(EvtSessionStart, 0, "s1", nil)
	a.Stop()
	a.Stop()

	var raw string
	if err := db.conn.QueryRow(
		"SELECT data FROM analytics_events WHERE event_type = ?", EvtRoundEnd,
	).Scan(&raw); err != nil {
		t.Fatalf("round_end row: %v", err)
	}
	var got roundEndData
	if err := json.Unmarshal([]byte(raw), &got); err != nil || got.Round != 2 || got.Winner != 3 {
		t.Errorf("expected round 2 won by 3, got %s", raw)
	}

	var nullData int
	db.conn.QueryRow(
		"SELECT COUNT(*) FROM analytics_events WHERE event_type = ? AND data IS NULL", EvtSessionStart,
	).Scan(&nullData)
	if nullData != 1 {
		t.Errorf("expected session_start without payload, got %d rows", nullData)
	}

	counts, err := a.EventCounts(7)
	if err != nil {
		t.Fatal(err)
	}
	if counts[EvtRoundEnd] != 1 || counts[EvtTankDestroyed] != 1 || counts[EvtSessionStart] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
	if n, _ := a.PilotsToday(); n != 1 {
		t.Errorf("expected one registered pilot today, got %d", n)
	}
	days, err := a.RoundsHistory(7)
	if err != nil || len(days) != 1 || days[0].Count != 1 {
		t.Errorf("expected one day with one round, got %v err=%v", days, err)
	}
}

func TestAnalyticsDropsWhenFull(t *testing.T) {
	// no writer goroutine: the queue is never drained
	a := &Analytics{queue: make(chan trackedEvent, 1), stop: make(chan struct{})}
	a.Track(EvtPlayerJoin, 0, "s1", nil)
	a.Track(EvtPlayerJoin, 0, "s1", nil)
	a.SetConcurrentPeers(3)
	a.SetActiveSessions(2)
	live := a.Live()
	if live.Dropped != 1 || live.Peers != 3 || live.Sessions != 2 {
		t.Errorf("expected 1 dropped, 3 peers, 2 sessions, got %+v", live)
	}
}
