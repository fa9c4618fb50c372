package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ---------- helpers ----------

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// startTestServer spins up an httptest.Server with a running Hub and returns
// the server, its WebSocket URL, the hub and a cleanup func.
func startTestServer(t *testing.T) (*httptest.Server, string, *Hub, func()) {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	jsDir := filepath.Join(tmpDir, "js")
	os.MkdirAll(jsDir, 0o755)
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(jsDir, "main.js"), []byte("// test"), 0o644)

	cfg := testMatchConfig()
	hub := NewHub(cfg, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(SetupRoutes(hub, tmpDir, "http://arena.test"))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	return srv, wsURL, hub, func() {
		srv.Close()
		cancel()
	}
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	return conn
}

// readEnvelope reads one message. Binary frames are applied to store (when
// given) and reported with an empty type; text frames are applied too.
func readEnvelope(t *testing.T, conn *websocket.Conn, store *ReplicaStore) InEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	if msgType == websocket.BinaryMessage {
		if store != nil {
			if err := store.HandleBinary(raw); err != nil {
				t.Fatalf("binary frame: %v", err)
			}
		}
		return InEnvelope{}
	}
	if store != nil {
		env, err := store.HandleText(raw)
		if err != nil {
			t.Fatalf("apply %s: %v", raw, err)
		}
		return env
	}
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

// waitFor reads until a message of type msgType arrives
func waitFor(t *testing.T, conn *websocket.Conn, store *ReplicaStore, msgType string) InEnvelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if env := readEnvelope(t, conn, store); env.T == msgType {
			return env
		}
	}
	t.Fatalf("no %s message before deadline", msgType)
	return InEnvelope{}
}

// pumpUntil feeds store until cond holds
func pumpUntil(t *testing.T, conn *websocket.Conn, store *ReplicaStore, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		readEnvelope(t, conn, store)
	}
}

// sendMsg sends a typed message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	env := Envelope{T: msgType, Data: data}
	raw, _ := json.Marshal(env)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// dataMap extracts the payload as map[string]interface{}.
func dataMap(t *testing.T, env InEnvelope) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	json.Unmarshal(env.D, &m)
	return m
}

// createSession creates a session and returns its ID.
func createSession(t *testing.T, conn *websocket.Conn, sname string) string {
	t.Helper()
	sendMsg(t, conn, MsgCreate, CreateMsg{SessionName: sname})
	created := waitFor(t, conn, nil, MsgCreated)
	return dataMap(t, created)["sid"].(string)
}

// joinSession joins sid and returns the tank the server assigned
func joinSession(t *testing.T, conn *websocket.Conn, store *ReplicaStore, name, sid string) EntityID {
	t.Helper()
	sendMsg(t, conn, MsgJoin, JoinMsg{Name: name, SessionID: sid})
	joined := waitFor(t, conn, store, MsgJoined)
	if got := dataMap(t, joined)["sid"]; got != sid {
		t.Errorf("expected to join session %s, got %v", sid, got)
	}
	welcome := waitFor(t, conn, store, MsgWelcome)
	var w WelcomeMsg
	json.Unmarshal(welcome.D, &w)
	if w.ID == NoEntity {
		t.Fatal("welcome without a tank id")
	}
	return w.ID
}

// createAndJoin creates a session then joins it. Returns the session ID.
func createAndJoin(t *testing.T, conn *websocket.Conn, name, sname string) string {
	t.Helper()
	sid := createSession(t, conn, sname)
	joinSession(t, conn, nil, name, sid)
	return sid
}

// ---------- UUID generation tests ----------

func TestGenerateUUIDFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := GenerateUUID()
		if !uuidRegex.MatchString(id) {
			t.Errorf("GenerateUUID() = %q, does not match UUID v4 format", id)
		}
	}
}

func TestGenerateUUIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateUUID()
		if seen[id] {
			t.Fatalf("duplicate UUID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSessionIDIsUUID(t *testing.T) {
	sm := NewSessionManager(testMatchConfig(), nil, nil)
	sess := sm.CreateSession("TestArena")
	defer sm.StopAll()
	if !uuidRegex.MatchString(sess.ID) {
		t.Errorf("session ID %q is not a valid UUID v4", sess.ID)
	}
}

// ---------- HTTP routes ----------

func TestSPARoutingRoot(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
}

func TestSPARoutingUUIDPath(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	uuid := GenerateUUID()
	resp, err := http.Get(srv.URL + "/" + uuid)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("GET /%s status = %d, want 200", uuid, resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<html>") {
		t.Errorf("UUID path should serve index.html, got %q", body)
	}
}

func TestSPARoutingStaticFiles(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/js/main.js")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("GET /js/main.js status = %d, want 200", resp.StatusCode)
	}
}

func TestSPARoutingNonUUIDPath(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/not-a-uuid")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Should fall through to file server (404)
	if resp.StatusCode != 404 {
		t.Errorf("GET /not-a-uuid status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("GET /healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionQRCode(t *testing.T) {
	srv, _, hub, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/qr/" + GenerateUUID())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown session QR status = %d, want 404", resp.StatusCode)
	}

	sess := hub.sessions.CreateSession("QR")
	resp, err = http.Get(srv.URL + "/qr/" + sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("expected image/png, got %q", resp.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("QR endpoint should return a PNG")
	}
}

// ---------- Session protocol ----------

func TestCheckSessionExists(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1 := dialWS(t, wsURL)
	defer c1.Close()
	sid := createAndJoin(t, c1, "Pilot", "Arena")

	c2 := dialWS(t, wsURL)
	defer c2.Close()
	sendMsg(t, c2, MsgCheck, CheckMsg{SID: sid})

	checked := waitFor(t, c2, nil, MsgChecked)
	d := dataMap(t, checked)
	if d["exists"] != true {
		t.Error("expected exists=true")
	}
	if d["name"] != "Arena" {
		t.Errorf("expected name=Arena, got %v", d["name"])
	}
	if d["players"].(float64) != 1 {
		t.Errorf("expected 1 player, got %v", d["players"])
	}
}

func TestCheckSessionNotExists(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	fakeSID := GenerateUUID()
	sendMsg(t, c, MsgCheck, CheckMsg{SID: fakeSID})
	d := dataMap(t, waitFor(t, c, nil, MsgChecked))
	if d["exists"] != false {
		t.Error("expected exists=false for non-existent session")
	}
	if d["sid"] != fakeSID {
		t.Errorf("expected sid=%s, got %v", fakeSID, d["sid"])
	}
}

func TestJoinNonExistentSession(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	sendMsg(t, c, MsgJoin, JoinMsg{Name: "Lost", SessionID: GenerateUUID()})
	if env := readEnvelope(t, c, nil); env.T != MsgError {
		t.Fatalf("expected error, got %s", env.T)
	}
}

func TestLateJoinerSnapshot(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1 := dialWS(t, wsURL)
	defer c1.Close()
	sid := createSession(t, c1, "Snap")
	first := joinSession(t, c1, nil, "Alice", sid)

	c2 := dialWS(t, wsURL)
	defer c2.Close()
	sendMsg(t, c2, MsgJoin, JoinMsg{Name: "Bob", SessionID: sid})

	// The snapshot is the first frame a new observer sees
	c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := c2.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	if msgType != websocket.BinaryMessage || raw[0] != FrameSnapshot {
		t.Fatalf("expected a snapshot frame first, got type %d", msgType)
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(raw[1:], &snap); err != nil {
		t.Fatalf("msgpack unmarshal: %v", err)
	}
	found := false
	for _, st := range snap.Entities {
		if st.ID == first {
			found = true
			if st.Fields.Name == nil || *st.Fields.Name != "Alice" {
				t.Errorf("snapshot should carry the committed name, got %v", st.Fields.Name)
			}
		}
	}
	if !found {
		t.Errorf("snapshot missing existing tank %d", first)
	}
}

func TestTwoPlayersReachPlay(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1 := dialWS(t, wsURL)
	defer c1.Close()
	sid := createSession(t, c1, "Duel")
	s1 := NewReplicaStore()
	me := joinSession(t, c1, s1, "Alice", sid)

	c2 := dialWS(t, wsURL)
	defer c2.Close()
	s2 := NewReplicaStore()
	joinSession(t, c2, s2, "Bob", sid)

	pumpUntil(t, c1, s1, "playing phase", func() bool { return s1.Phase.Get() == PhasePlaying })
	pumpUntil(t, c1, s1, "controls", func() bool {
		e, ok := s1.Get(me)
		return ok && e.Controls.Get()
	})
	if s1.Round.Get() != 1 {
		t.Errorf("expected round 1, got %d", s1.Round.Get())
	}
	if n := len(s1.Query(TagPlayer, true)); n != 2 {
		t.Errorf("expected 2 live players in the replica, got %d", n)
	}

	sendMsg(t, c1, MsgSetName, SetNameMsg{E: me, Name: "Alicia"})
	pumpUntil(t, c2, s2, "rename", func() bool {
		e, ok := s2.Get(me)
		return ok && e.Name.Get() == "Alicia"
	})
}

func TestLeaveThenSweep(t *testing.T) {
	_, wsURL, hub, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()
	sid := createAndJoin(t, c, "Solo", "TempBattle")

	sendMsg(t, c, MsgLeave, nil)
	sendMsg(t, c, MsgCheck, CheckMsg{SID: sid})
	if d := dataMap(t, waitFor(t, c, nil, MsgChecked)); d["exists"] != true {
		t.Fatal("session should survive until swept")
	}

	if n := hub.sessions.Sweep(time.Now().Add(SessionIdleTimeout + time.Second)); n != 1 {
		t.Errorf("expected 1 session reaped, got %d", n)
	}
	sendMsg(t, c, MsgCheck, CheckMsg{SID: sid})
	if d := dataMap(t, waitFor(t, c, nil, MsgChecked)); d["exists"] != false {
		t.Error("session should be gone after the sweep")
	}
}

func TestListSessions(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	sendMsg(t, c, MsgList, nil)
	var sessions []SessionInfo
	json.Unmarshal(waitFor(t, c, nil, MsgSessions).D, &sessions)
	if len(sessions) != 0 {
		t.Errorf("expected 0 sessions, got %d", len(sessions))
	}

	c2 := dialWS(t, wsURL)
	defer c2.Close()
	createAndJoin(t, c2, "P1", "Arena1")

	sendMsg(t, c, MsgList, nil)
	json.Unmarshal(waitFor(t, c, nil, MsgSessions).D, &sessions)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Name != "Arena1" || sessions[0].Players != 1 {
		t.Errorf("unexpected session info %+v", sessions[0])
	}
	if sessions[0].Phase != PhaseAwaitingPlayers.String() {
		t.Errorf("expected awaiting phase, got %s", sessions[0].Phase)
	}
}
