package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/domain"
	"github.com/ernie/paddle-arena/internal/npc"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Game-state snapshots are an order of magnitude bigger than control
	// messages, so the read limit is generous.
	maxMessageSize = 64 * 1024

	sendQueueSize = 256
)

// Client request types accepted over the socket.
const (
	msgJoinRoom     = "join-room"
	msgLeaveRoom    = "leave-room"
	msgStartGame    = "start-game"
	msgResetRoom    = "reset-room"
	msgGameState    = "game-state"
	msgScoreUpdate  = "score-update"
	msgPaddleTarget = "paddle-target"
	msgEnableNPC    = "enable-npc"
	msgDisableNPC   = "disable-npc"

	msgCreateTournament = "create-tournament"
	msgJoinTournament   = "join-tournament"
	msgStartTournament  = "start-tournament"
	msgMatchResult      = "match-result"
	msgAdvanceRound     = "advance-round"

	msgJoinRoyale = "join-royale"
	msgAttack     = "attack"
)

// clientMessage is the request envelope read from the socket. Fields beyond
// Type are populated per request kind.
type clientMessage struct {
	Type         string            `json:"type"`
	RoomID       string            `json:"room_id,omitempty"`
	TournamentID string            `json:"tournament_id,omitempty"`
	MatchID      string            `json:"match_id,omitempty"`
	SideGameID   string            `json:"side_game_id,omitempty"`
	WinnerID     string            `json:"winner_id,omitempty"`
	MaxPlayers   int               `json:"max_players,omitempty"`
	TargetX      float64           `json:"target_x,omitempty"`
	Scorer       domain.Side       `json:"scorer,omitempty"`
	State        *domain.GameState `json:"state,omitempty"`
	NPC          *npcSpec          `json:"npc,omitempty"`
}

// npcSpec is the wire form of an NPC request. Difficulty presets only;
// parameter overrides are a config-file concern.
type npcSpec struct {
	Side       domain.Side `json:"side"`
	Mode       string      `json:"mode"`
	Difficulty string      `json:"difficulty"`
}

// getClientIP extracts the real client IP, checking proxy headers first
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (may contain multiple IPs, first is the client)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (strip port if present)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// wsClient is one connected participant and the relay's delivery sink for
// it. State snapshots are enqueued best-effort and dropped when the client
// cannot keep up; control events block until queued or the connection dies.
type wsClient struct {
	id         string
	name       string
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	router     *Router
	remoteAddr string
}

// SendUnreliable enqueues without blocking. A dropped snapshot is replaced
// by the next tick's snapshot anyway.
func (c *wsClient) SendUnreliable(data []byte) {
	select {
	case c.send <- append([]byte(nil), data...):
	default:
	}
}

// SendReliable blocks until the message is queued or the connection is gone.
func (c *wsClient) SendReliable(data []byte) error {
	data = append([]byte(nil), data...)
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrTransportSend
	case <-time.After(writeWait):
		return domain.ErrTransportSend
	}
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("name")
	if name == "" {
		name = "anonymous"
	}
	id := req.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		id:         id,
		name:       name,
		conn:       conn,
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		router:     r,
		remoteAddr: getClientIP(req),
	}

	r.relay.Register(id, client)
	r.log.Info("websocket client connected",
		zap.String("participant", id),
		zap.String("name", name),
		zap.String("remote", client.remoteAddr))

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()

	client.sendEvent(domain.Event{
		Type: domain.EventWelcome,
		Data: domain.WelcomeEvent{ParticipantID: id, Name: name},
	})
}

// readPump reads client requests and dispatches them to the managers
func (c *wsClient) readPump() {
	defer func() {
		c.shutdown()
		c.router.relay.Disconnect(c.id)
		c.conn.Close()
		c.router.log.Info("websocket client disconnected",
			zap.String("participant", c.id),
			zap.String("remote", c.remoteAddr))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.router.log.Warn("websocket read error",
					zap.String("participant", c.id), zap.Error(err))
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError("", "malformed message")
			continue
		}
		if err := c.dispatch(msg); err != nil {
			c.replyError(msg.Type, err.Error())
		}
	}
}

// dispatch routes one client request to the owning manager. The returned
// error is reported back to this client only.
func (c *wsClient) dispatch(msg clientMessage) error {
	rt := c.router

	switch msg.Type {
	case msgJoinRoom:
		roomID := msg.RoomID
		if roomID == "" {
			roomID = rt.sessions.CreateRoom()
		} else {
			// Named rooms come into being on first join, so tournament
			// pairings and friends agreeing on a room name both work.
			rt.sessions.GetOrCreateRoom(roomID)
		}
		rt.relay.Join(roomID, c.id)
		if _, err := rt.sessions.Join(roomID, c.participant()); err != nil {
			rt.relay.Leave(roomID, c.id)
			return err
		}
		return nil

	case msgLeaveRoom:
		rt.relay.Leave(msg.RoomID, c.id)
		return nil

	case msgStartGame:
		return rt.sessions.StartGame(msg.RoomID)

	case msgResetRoom:
		return rt.sessions.ResetRoom(msg.RoomID)

	case msgGameState:
		if msg.State == nil {
			return domain.ErrMalformedState
		}
		return rt.sessions.SubmitState(msg.RoomID, c.id, *msg.State)

	case msgScoreUpdate:
		return rt.sessions.SubmitScore(msg.RoomID, c.id, msg.Scorer)

	case msgPaddleTarget:
		// The room id namespace is shared, so a miss in the 1v1 manager
		// falls through to the royale manager.
		err := rt.sessions.SetPaddleTarget(msg.RoomID, c.id, msg.TargetX)
		if errors.Is(err, domain.ErrRoomNotFound) {
			return rt.royale.SetPaddleTarget(msg.RoomID, c.id, msg.TargetX)
		}
		return err

	case msgEnableNPC:
		if msg.NPC == nil {
			return errors.New("npc settings required")
		}
		cfg := npc.Config{
			Enabled:    true,
			Side:       msg.NPC.Side,
			Mode:       npc.Mode(msg.NPC.Mode),
			Difficulty: npc.Difficulty(msg.NPC.Difficulty),
		}
		return rt.sessions.EnableNPC(msg.RoomID, msg.NPC.Side, cfg)

	case msgDisableNPC:
		return rt.sessions.DisableNPC(msg.RoomID)

	case msgCreateTournament:
		id, err := rt.tournaments.Create(msg.MaxPlayers)
		if err != nil {
			return err
		}
		c.sendEvent(domain.Event{
			Type: domain.EventTournamentCreated,
			Data: domain.TournamentCreatedEvent{TournamentID: id, MaxPlayers: msg.MaxPlayers},
		})
		rt.relay.Join(id, c.id)
		_, err = rt.tournaments.AddPlayer(id, c.participant())
		return err

	case msgJoinTournament:
		rt.relay.Join(msg.TournamentID, c.id)
		if _, err := rt.tournaments.AddPlayer(msg.TournamentID, c.participant()); err != nil {
			rt.relay.Leave(msg.TournamentID, c.id)
			return err
		}
		return nil

	case msgStartTournament:
		return rt.tournaments.Start(msg.TournamentID)

	case msgMatchResult:
		winner := msg.WinnerID
		if winner == "" {
			winner = c.id
		}
		return rt.tournaments.RecordResult(msg.TournamentID, msg.MatchID, c.id, winner)

	case msgAdvanceRound:
		return rt.tournaments.AdvanceRound(msg.TournamentID)

	case msgJoinRoyale:
		if msg.RoomID == "" {
			return errors.New("room_id required")
		}
		rt.relay.Join(msg.RoomID, c.id)
		if err := rt.royale.Join(msg.RoomID, c.participant()); err != nil {
			rt.relay.Leave(msg.RoomID, c.id)
			return err
		}
		return nil

	case msgAttack:
		return rt.royale.Attack(msg.RoomID, c.id, msg.SideGameID)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (c *wsClient) participant() domain.Participant {
	return domain.Participant{ID: c.id, Name: c.name, JoinedAt: time.Now()}
}

// sendEvent serializes and queues an event for this client only, bypassing
// the bus. Used for the welcome handshake and request rejections.
func (c *wsClient) sendEvent(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		c.router.log.Warn("marshaling client event", zap.Error(err))
		return
	}
	_ = c.SendReliable(data)
}

func (c *wsClient) replyError(request, message string) {
	c.sendEvent(domain.Event{
		Type: domain.EventError,
		Data: domain.ErrorEvent{Request: request, Message: message},
	})
}

func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump sends queued messages to the WebSocket
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into this write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
