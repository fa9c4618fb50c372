package main

import (
	"encoding/binary"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxSessionNameLen = 30
	leaderboardSize   = 20
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	quit       chan struct{}
	quitOnce   sync.Once
	connID     ConnID
	sessionID  string
	tankID     EntityID
	remoteAddr string
	msgCount   int
	msgResetAt time.Time
	// Auth state
	authPlayerID int64  // 0 = unauthenticated/guest
	authUsername string // "" = unauthenticated
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		quit:       make(chan struct{}),
		connID:     ConnID(GenerateID(8)),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		// Binary input messages: 8 bytes [0x01, e(4, big endian), move int8, turn int8, flags]
		if msgType == websocket.BinaryMessage && len(message) == 8 && message[0] == 0x01 {
			c.handleBinaryInput(message)
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(message); err != nil {
				return
			}

		case <-c.quit:
			// Flush what is already queued, then close politely
			for {
				select {
				case message, ok := <-c.send:
					if ok && c.write(message) == nil {
						continue
					}
				default:
				}
				break
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session over"))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// write sends one queued message. A 0xFF prefix from SendBinary marks a
// binary frame.
func (c *Client) write(message []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if len(message) > 0 && message[0] == 0xFF {
		return c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-marshaled bytes. A client that cannot keep up is
// disconnected instead of silently losing a change.
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		log.Printf("send buffer full for %s, disconnecting", c.remoteAddr)
		c.Disconnect()
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	c.SendRaw(msg)
}

// Disconnect closes the connection after flushing queued messages
func (c *Client) Disconnect() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgInput:
		c.handleInput(env.D)
	case MsgLeave:
		c.handleLeave()
	case MsgCheck:
		c.handleCheck(env.D)
	case MsgSetName:
		c.handleSetName(env.D)
	case MsgSetColor:
		c.handleSetColor(env.D)
	case MsgControls:
		c.handleControls(env.D)
	case MsgFire:
		c.handleFire(env.D)
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgAuth:
		c.handleAuth(env.D)
	case MsgProfile:
		c.handleProfile()
	case MsgLeaderboard:
		c.handleLeaderboard()
	}
}

// game returns the game of the joined session, or nil
func (c *Client) game() *Game {
	if c.sessionID == "" {
		return nil
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return nil
	}
	return sess.Game
}

func (c *Client) handleList() {
	sessions := c.hub.sessions.ListSessions()
	c.SendJSON(Envelope{T: MsgSessions, Data: sessions})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sname := msg.SessionName
	if sname == "" {
		sname = "Tank Arena"
	}
	if len(sname) > maxSessionNameLen {
		sname = sname[:maxSessionNameLen]
	}

	sess := c.hub.sessions.CreateSession(sname)
	if sess == nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "too many active sessions"}})
		return
	}

	c.hub.sessions.MarkActive(sess.ID)
	c.SendJSON(Envelope{T: MsgCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SessionID)
	if sess == nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "session not found"}})
		return
	}
	if c.sessionID != "" {
		c.handleLeave()
	}

	seed := JoinSeed{Name: msg.Name, Color: DefaultTankColor, AccountID: c.authPlayerID}
	if msg.Color != nil {
		seed.Color = *msg.Color
	}
	// Saved preferences win over whatever the page sent
	if c.authPlayerID != 0 && c.hub.db != nil {
		name, col, ok, err := c.hub.db.GetPreferences(c.authPlayerID)
		if err != nil {
			log.Printf("preferences for %d: %v", c.authPlayerID, err)
		} else if ok {
			seed.Name = name
			seed.Color = col
		}
	}

	id, ok := sess.Game.AddClient(c.connID, c, seed)
	if !ok {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "session full"}})
		return
	}
	c.hub.sessions.MarkActive(sess.ID)
	c.sessionID = sess.ID
	c.tankID = id

	c.SendJSON(Envelope{T: MsgJoined, Data: map[string]string{"sid": sess.ID}})
	c.SendJSON(Envelope{T: MsgWelcome, Data: WelcomeMsg{ID: id}})
}

// handleBinaryInput decodes a compact 8-byte binary input message
func (c *Client) handleBinaryInput(msg []byte) {
	g := c.game()
	if g == nil {
		return
	}
	flags := msg[7]
	g.HandleInput(c.connID, InputMsg{
		E: EntityID(binary.BigEndian.Uint32(msg[1:5])),
		TankInput: TankInput{
			Move: float64(int8(msg[5])) / 127,
			Turn: float64(int8(msg[6])) / 127,
			Fire: flags&0x01 != 0,
			Alt:  flags&0x02 != 0,
		},
	})
}

func (c *Client) handleInput(data json.RawMessage) {
	g := c.game()
	if g == nil {
		return
	}
	var msg InputMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	g.HandleInput(c.connID, msg)
}

func (c *Client) handleSetName(data json.RawMessage) {
	g := c.game()
	if g == nil {
		return
	}
	var msg SetNameMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if g.HandleSetName(c.connID, msg) {
		c.savePreferences(g, msg.E)
	}
}

func (c *Client) handleSetColor(data json.RawMessage) {
	g := c.game()
	if g == nil {
		return
	}
	var msg SetColorMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if g.HandleSetColor(c.connID, msg) {
		c.savePreferences(g, msg.E)
	}
}

// savePreferences persists the committed identity of the client's tank
func (c *Client) savePreferences(g *Game, id EntityID) {
	if c.authPlayerID == 0 || c.hub.db == nil {
		return
	}
	name, col, ok := g.Identity(id)
	if !ok {
		return
	}
	if err := c.hub.db.SavePreferences(c.authPlayerID, name, col); err != nil {
		log.Printf("save preferences for %d: %v", c.authPlayerID, err)
	}
}

func (c *Client) handleControls(data json.RawMessage) {
	g := c.game()
	if g == nil {
		return
	}
	var msg ControlsMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	g.HandleControls(c.connID, msg)
}

func (c *Client) handleFire(data json.RawMessage) {
	g := c.game()
	if g == nil {
		return
	}
	var msg FireMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	g.HandleFire(c.connID, msg)
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg CheckMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SID)
	if sess == nil {
		c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{SID: msg.SID, Exists: false}})
		return
	}
	c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{
		SID:     msg.SID,
		Exists:  true,
		Name:    sess.Name,
		Players: sess.Game.PlayerCount(),
	}})
}

func (c *Client) handleLeave() {
	if c.sessionID != "" {
		c.hub.sessions.RemovePlayer(c.sessionID, c.connID)
		c.sessionID = ""
		c.tankID = NoEntity
	}
}

func (c *Client) authenticated(p Pilot) {
	c.authPlayerID = p.PlayerID
	c.authUsername = p.Username
	c.hub.SetOnline(p.PlayerID, c)
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:       p.Token,
		Username:    p.Username,
		PlayerID:    p.PlayerID,
		TankName:    p.TankName,
		ColoredName: p.ColoredName(),
		Color:       p.Color,
	}})
}

func (c *Client) handleRegister(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	p, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.authenticated(p)
}

func (c *Client) handleLogin(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	p, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.authenticated(p)
}

func (c *Client) handleAuth(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	p, err := c.hub.auth.Resume(msg.Token)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "invalid token"}})
		return
	}
	c.authenticated(p)
}

func (c *Client) handleProfile() {
	if c.hub.auth == nil || c.authPlayerID == 0 {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "not authenticated"}})
		return
	}
	profile, err := c.hub.auth.Profile(c.authPlayerID, c.authUsername)
	if err != nil {
		log.Printf("profile for %d: %v", c.authPlayerID, err)
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "profile not found"}})
		return
	}
	c.SendJSON(Envelope{T: MsgProfileData, Data: profile})
}

func (c *Client) handleLeaderboard() {
	if c.hub.db == nil {
		c.SendJSON(Envelope{T: MsgBoard, Data: []LeaderboardEntry{}})
		return
	}
	board, err := c.hub.db.GetLeaderboard("games", leaderboardSize)
	if err != nil {
		log.Printf("leaderboard error: %v", err)
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "leaderboard unavailable"}})
		return
	}
	for i := range board {
		board[i].Online = c.hub.IsOnline(board[i].PlayerID)
	}
	c.SendJSON(Envelope{T: MsgBoard, Data: board})
}
