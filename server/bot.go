package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gorilla/websocket"
)

const (
	botThinkEvery = 100 * time.Millisecond
	botFireAngle  = 8.0  // degrees off target still worth a shot
	botCloseRange = 8.0  // back off inside this distance
	botFireRange  = 25.0 // don't waste shells beyond this
)

// Bot is a headless client that plays through the public protocol. All
// state lives on the read goroutine, so the replica needs no extra locking.
type Bot struct {
	conn    *websocket.Conn
	store   *ReplicaStore
	self    EntityID
	sid     string
	name    string
	alt     bool
	lastAct time.Time
}

// RunBot dials url, creates or joins a session and plays until ctx ends or
// the server closes the connection
func RunBot(ctx context.Context, url, sessionID, name string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	b := &Bot{
		conn:  conn,
		store: NewReplicaStore(),
		sid:   sessionID,
		name:  name,
		alt:   rand.IntN(2) == 0,
	}
	b.store.OnEvent = func(ev Event) {
		if ev.Text != "" {
			log.Printf("bot %s: %s", name, ev.Text)
		}
	}

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	}()

	if sessionID == "" {
		err = b.send(MsgCreate, CreateMsg{SessionName: name + "'s arena"})
	} else {
		err = b.join()
	}
	if err != nil {
		return err
	}
	return b.loop(ctx)
}

func (b *Bot) send(t string, d any) error {
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteJSON(Envelope{T: t, Data: d})
}

func (b *Bot) join() error {
	return b.send(MsgJoin, JoinMsg{Name: b.name, SessionID: b.sid})
}

func (b *Bot) loop(ctx context.Context) error {
	for {
		kind, raw, err := b.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("bot %s: server closed the session", b.name)
				return nil
			}
			return err
		}
		if kind == websocket.BinaryMessage {
			if err := b.store.HandleBinary(raw); err != nil {
				log.Printf("bot %s: bad frame: %v", b.name, err)
			}
		} else if err := b.handleText(raw); err != nil {
			return err
		}
		if time.Since(b.lastAct) >= botThinkEvery {
			b.lastAct = time.Now()
			if err := b.act(); err != nil {
				return err
			}
		}
	}
}

func (b *Bot) handleText(raw []byte) error {
	env, err := b.store.HandleText(raw)
	if err != nil {
		log.Printf("bot %s: bad message: %v", b.name, err)
		return nil
	}
	switch env.T {
	case MsgCreated:
		var m struct {
			SID string `json:"sid"`
		}
		if err := json.Unmarshal(env.D, &m); err != nil {
			return err
		}
		b.sid = m.SID
		log.Printf("bot %s: created session %s", b.name, b.sid)
		return b.join()
	case MsgWelcome:
		var m WelcomeMsg
		if err := json.Unmarshal(env.D, &m); err != nil {
			return err
		}
		b.self = m.ID
	case MsgError:
		var m ErrorMsg
		json.Unmarshal(env.D, &m)
		return fmt.Errorf("server: %s", m.Msg)
	}
	return nil
}

// act steers toward the nearest living opponent and fires when lined up.
// Nothing is sent while the server has our controls switched off.
func (b *Bot) act() error {
	me, ok := b.store.Get(b.self)
	if !ok || !me.Controls.Get() || !me.Active || !me.Alive.Get() {
		return nil
	}
	target, ok := b.nearestOpponent(me)
	if !ok {
		return b.send(MsgInput, InputMsg{E: b.self})
	}

	d := target.Sub(me.Transform.Pos)
	dist := Distance(me.Transform.Pos, target)
	want := math.Atan2(d.X, d.Z) * 180 / math.Pi
	diff := NormalizeYaw(want - me.Transform.Yaw)
	if diff > 180 {
		diff -= 360
	}

	in := TankInput{Turn: Clamp(diff/30, -1, 1)}
	switch {
	case dist < botCloseRange:
		in.Move = -0.5
	case dist > botFireRange*0.6:
		in.Move = 1
	}
	if err := b.send(MsgInput, InputMsg{E: b.self, TankInput: in}); err != nil {
		return err
	}
	if math.Abs(diff) < botFireAngle && dist < botFireRange {
		return b.send(MsgFire, FireMsg{E: b.self, Alt: b.alt})
	}
	return nil
}

func (b *Bot) nearestOpponent(me *ReplicaEntity) (Vec3, bool) {
	best := math.Inf(1)
	var pos Vec3
	for _, tag := range []Tag{TagEnemy, TagPlayer} {
		for _, id := range b.store.Query(tag, true) {
			if id == b.self {
				continue
			}
			e, ok := b.store.Get(id)
			if !ok || !e.Active {
				continue
			}
			if d := Distance(me.Transform.Pos, e.Transform.Pos); d < best {
				best = d
				pos = e.Transform.Pos
			}
		}
	}
	return pos, !math.IsInf(best, 1)
}
