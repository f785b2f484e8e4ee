package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/bus"
	"github.com/ernie/paddle-arena/internal/domain"
	"github.com/ernie/paddle-arena/internal/npc/provision"
	"github.com/ernie/paddle-arena/internal/relay"
	"github.com/ernie/paddle-arena/internal/royale"
	"github.com/ernie/paddle-arena/internal/session"
	"github.com/ernie/paddle-arena/internal/storage"
	"github.com/ernie/paddle-arena/internal/tournament"
)

// newTestStack wires the full in-process pipeline: embedded bus, relay,
// managers, in-memory store, router.
func newTestStack(t *testing.T) (*Router, *httptest.Server) {
	t.Helper()
	log := zap.NewNop()

	b, err := bus.New(log)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	rel, err := relay.New(b, log)
	require.NoError(t, err)

	store, err := storage.New(storage.DefaultDSN)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := provision.NewLocal(log)
	sessions := session.NewManager(session.Config{}, rel, provider, store, log)
	t.Cleanup(sessions.Close)
	tournaments := tournament.NewManager(rel, sessions, log, nil)
	royaleMgr := royale.NewManager(royale.Config{}, rel, provider, store, log)
	t.Cleanup(royaleMgr.Close)

	rel.OnLeave(func(roomID, participantID string) {
		_ = sessions.Leave(roomID, participantID)
		_ = royaleMgr.Leave(roomID, participantID)
		_ = tournaments.HandleDisconnect(roomID, participantID)
	})

	router := NewRouter(store, sessions, tournaments, royaleMgr, rel, log, "")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return router, srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, srv := newTestStack(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestStack(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/rooms", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestGetRooms(t *testing.T) {
	router, srv := newTestStack(t)

	var rooms []session.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/rooms", &rooms))
	assert.Empty(t, rooms)

	id := router.sessions.CreateRoom()

	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/rooms", &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, id, rooms[0].ID)

	var snap session.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/rooms/"+id, &snap))
	assert.Equal(t, id, snap.ID)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/rooms/nope", nil))
}

func TestGetTournaments(t *testing.T) {
	router, srv := newTestStack(t)

	id, err := router.tournaments.Create(4)
	require.NoError(t, err)

	var list []tournament.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/tournaments", &list))
	require.Len(t, list, 1)

	var snap tournament.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/tournaments/"+id, &snap))
	assert.Equal(t, 4, snap.MaxPlayers)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/tournaments/nope", nil))
}

func TestGetRoyaleRooms(t *testing.T) {
	_, srv := newTestStack(t)

	var rooms []royale.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/royale", &rooms))
	assert.Empty(t, rooms)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/royale/nope", nil))
}

func TestGetMatches(t *testing.T) {
	_, srv := newTestStack(t)

	var page struct {
		Matches []domain.MatchRecord `json:"matches"`
		Total   int64                `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/matches", &page))
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Matches)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/matches/99", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/matches/abc", nil))
}

// dialWS connects to the router's websocket endpoint and waits for the
// welcome handshake.
func dialWS(t *testing.T, srv *httptest.Server, name string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ev := waitForEvent(t, conn, domain.EventWelcome)
	var welcome domain.WelcomeEvent
	decodeEventData(t, ev, &welcome)
	assert.Equal(t, name, welcome.Name)
	return conn, welcome.ParticipantID
}

// waitForEvent reads frames until an event of the wanted type arrives.
// Frames may carry several newline-delimited events.
func waitForEvent(t *testing.T, conn *websocket.Conn, eventType string) domain.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var ev domain.Event
			require.NoError(t, json.Unmarshal(line, &ev))
			if ev.Type == eventType {
				return ev
			}
		}
	}
	t.Fatalf("no %s event before deadline", eventType)
	return domain.Event{}
}

func decodeEventData(t *testing.T, ev domain.Event, out any) {
	t.Helper()
	raw, err := json.Marshal(ev.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg clientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestWebSocketJoinCreatesRoom(t *testing.T) {
	router, srv := newTestStack(t)

	conn, _ := dialWS(t, srv, "alice")
	sendMessage(t, conn, clientMessage{Type: msgJoinRoom})

	ev := waitForEvent(t, conn, domain.EventRoomJoined)
	var joined domain.RoomJoinedEvent
	decodeEventData(t, ev, &joined)
	assert.Equal(t, 1, joined.Slot)
	assert.True(t, joined.IsAuthoritative)
	assert.NotEmpty(t, joined.RoomID)

	snap, err := router.sessions.RoomSnapshot(joined.RoomID)
	require.NoError(t, err)
	assert.Len(t, snap.Slots, 1)
}

func TestWebSocketTwoPlayersReachReady(t *testing.T) {
	_, srv := newTestStack(t)

	alice, _ := dialWS(t, srv, "alice")
	sendMessage(t, alice, clientMessage{Type: msgJoinRoom})

	ev := waitForEvent(t, alice, domain.EventRoomJoined)
	var joined domain.RoomJoinedEvent
	decodeEventData(t, ev, &joined)

	bob, _ := dialWS(t, srv, "bob")
	sendMessage(t, bob, clientMessage{Type: msgJoinRoom, RoomID: joined.RoomID})

	waitForEvent(t, alice, domain.EventGameReady)
	waitForEvent(t, bob, domain.EventGameReady)
}

func TestWebSocketJoinNamedRoomCreatesIt(t *testing.T) {
	router, srv := newTestStack(t)

	conn, _ := dialWS(t, srv, "alice")
	sendMessage(t, conn, clientMessage{Type: msgJoinRoom, RoomID: "friends-arena"})

	ev := waitForEvent(t, conn, domain.EventRoomJoined)
	var joined domain.RoomJoinedEvent
	decodeEventData(t, ev, &joined)
	assert.Equal(t, "friends-arena", joined.RoomID)

	_, err := router.sessions.RoomSnapshot("friends-arena")
	require.NoError(t, err)
}

func TestTournamentMatchRoomsAreJoinable(t *testing.T) {
	router, _ := newTestStack(t)

	id, err := router.tournaments.Create(2)
	require.NoError(t, err)
	a := domain.Participant{ID: "a", Name: "a", JoinedAt: time.Now()}
	b := domain.Participant{ID: "b", Name: "b", JoinedAt: time.Now()}
	_, err = router.tournaments.AddPlayer(id, a)
	require.NoError(t, err)
	_, err = router.tournaments.AddPlayer(id, b)
	require.NoError(t, err)
	require.NoError(t, router.tournaments.Start(id))

	snap, err := router.tournaments.TournamentSnapshot(id)
	require.NoError(t, err)
	require.Len(t, snap.Rounds, 1)
	roomID := snap.Rounds[0][0].RoomID
	require.NotEmpty(t, roomID)

	// The pairing's room already exists in the session manager.
	res, err := router.sessions.Join(roomID, a)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Slot)
	_, err = router.sessions.Join(roomID, b)
	require.NoError(t, err)
}

func TestWebSocketUnknownTypeIsRejected(t *testing.T) {
	_, srv := newTestStack(t)

	conn, _ := dialWS(t, srv, "alice")
	sendMessage(t, conn, clientMessage{Type: "bogus"})

	ev := waitForEvent(t, conn, domain.EventError)
	var reject domain.ErrorEvent
	decodeEventData(t, ev, &reject)
	assert.Equal(t, "bogus", reject.Request)
}

func TestWebSocketDisconnectLeavesRoom(t *testing.T) {
	router, srv := newTestStack(t)

	conn, _ := dialWS(t, srv, "alice")
	sendMessage(t, conn, clientMessage{Type: msgJoinRoom})

	ev := waitForEvent(t, conn, domain.EventRoomJoined)
	var joined domain.RoomJoinedEvent
	decodeEventData(t, ev, &joined)

	conn.Close()

	require.Eventually(t, func() bool {
		_, err := router.sessions.RoomSnapshot(joined.RoomID)
		return err != nil
	}, 3*time.Second, 20*time.Millisecond, "room should be destroyed after last leave")
}
