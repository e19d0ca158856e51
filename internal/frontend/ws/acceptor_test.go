package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/plaza/internal/auth"
	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/presence"
	"github.com/cory-johannsen/plaza/internal/protocol"
	"github.com/cory-johannsen/plaza/internal/room"
	"github.com/cory-johannsen/plaza/internal/session"
	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/testutil"
)

const (
	testSecret = "gateway-test-secret"
	wait       = 2 * time.Second
)

type gateway struct {
	acc      *Acceptor
	registry *room.Registry
	sessions *session.Manager
	url      string
}

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Host:         "127.0.0.1",
		Port:         0,
		Path:         "/ws",
		ReadLimit:    64 * 1024,
		WriteTimeout: 2 * time.Second,
		PingPeriod:   time.Second,
		PongWait:     3 * time.Second,
		OutboxSize:   64,
	}
}

func newGateway(t *testing.T, mutate ...func(*config.WebSocketConfig)) *gateway {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	cat, err := space.NewCatalog([]*space.Descriptor{
		{ID: "lobby", Name: "Lobby", Bounds: space.Bounds{Width: 12, Height: 8}},
	})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	reg := room.NewRegistry(room.SourceLoader{Spaces: cat}, logger)
	mgr := session.NewManager(reg, auth.NewJWTVerifier(testSecret, ""), presence.NewTracker(), logger, session.Options{
		OutboxSize:    cfg.OutboxSize,
		SpawnAttempts: 50,
	})
	acc := NewAcceptor(cfg, mgr, reg.Stats, logger)

	srv := httptest.NewServer(acc.Handler())
	t.Cleanup(func() {
		acc.Stop()
		srv.Close()
	})
	return &gateway{acc: acc, registry: reg, sessions: mgr, url: srv.URL}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func decode[T any](t *testing.T, f testutil.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func (g *gateway) join(t *testing.T, userID string) (*testutil.WSClient, protocol.JoinedSnapshot) {
	t.Helper()
	c := testutil.NewWSClient(t, g.url+"/ws")
	c.Send(protocol.TypeJoin, protocol.Join{SpaceID: "lobby", Token: token(t, userID)})
	f := c.Read(wait)
	require.Equal(t, protocol.TypeJoinedSnapshot, f.Type)
	return c, decode[protocol.JoinedSnapshot](t, f)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, wait, 10*time.Millisecond)
}

func TestAcceptorStartAndStop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := room.NewRegistry(room.SourceLoader{Spaces: mustCatalog(t)}, logger)
	mgr := session.NewManager(reg, auth.NewJWTVerifier(testSecret, ""), presence.NewTracker(), logger, session.Options{})
	acc := NewAcceptor(testConfig(), mgr, reg.Stats, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- acc.ListenAndServe()
	}()

	eventually(t, func() bool { return acc.IsRunning() && acc.Addr() != "" })

	resp, err := http.Get("http://" + acc.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	acc.Stop()
	assert.False(t, acc.IsRunning())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("ListenAndServe did not return after Stop")
	}

	acc.Stop()
}

func mustCatalog(t *testing.T) *space.Catalog {
	t.Helper()
	cat, err := space.NewCatalog([]*space.Descriptor{{ID: "lobby", Bounds: space.Bounds{Width: 4, Height: 4}}})
	require.NoError(t, err)
	return cat
}

func TestGateway_JoinBroadcastAndLeave(t *testing.T) {
	g := newGateway(t)

	alice, snapA := g.join(t, "alice")
	assert.Equal(t, "alice", snapA.UserID)
	assert.Equal(t, "lobby", snapA.SpaceID)
	assert.Equal(t, space.Bounds{Width: 12, Height: 8}, snapA.Bounds)
	assert.Empty(t, snapA.Occupants)

	bob, snapB := g.join(t, "bob")
	require.Len(t, snapB.Occupants, 1)
	assert.Equal(t, "alice", snapB.Occupants[0].UserID)
	assert.Equal(t, snapA.Spawn, snapB.Occupants[0].Position)

	joined := decode[protocol.UserJoined](t, alice.ReadUntil(protocol.TypeUserJoined, wait))
	assert.Equal(t, "bob", joined.UserID)
	assert.Equal(t, snapB.Spawn, joined.Position)

	bob.Send(protocol.TypeChat, protocol.Chat{Message: "hi"})
	for _, c := range []*testutil.WSClient{alice, bob} {
		msg := decode[protocol.ChatMessage](t, c.ReadUntil(protocol.TypeChatMessage, wait))
		assert.Equal(t, "bob", msg.UserID)
		assert.Equal(t, "hi", msg.Message)
	}

	bob.Close()
	left := decode[protocol.UserLeft](t, alice.ReadUntil(protocol.TypeUserLeft, wait))
	assert.Equal(t, "bob", left.UserID)
	eventually(t, func() bool { return g.sessions.Count() == 1 })

	_, occupants := g.registry.Stats()
	assert.Equal(t, 1, occupants)
}

func TestGateway_MoveReachesPeersOnly(t *testing.T) {
	g := newGateway(t)

	alice, snap := g.join(t, "alice")
	bob, _ := g.join(t, "bob")
	alice.ReadUntil(protocol.TypeUserJoined, wait)

	target := snap.Spawn
	if target.X+1 < snap.Bounds.Width {
		target.X++
	} else {
		target.X--
	}
	alice.Send(protocol.TypeMove, map[string]int{"x": target.X, "y": target.Y})

	mv := decode[protocol.Movement](t, bob.ReadUntil(protocol.TypeMovement, wait))
	assert.Equal(t, "alice", mv.UserID)
	assert.Equal(t, target, mv.Position)

	// A jump is rejected privately with the authoritative position.
	alice.Send(protocol.TypeMove, map[string]int{"x": target.X, "y": target.Y + 3})
	rej := decode[protocol.MovementRejected](t, alice.ReadUntil(protocol.TypeMovementRejected, wait))
	assert.Equal(t, target, rej.Position)
}

func TestGateway_FatalJoinClosesWithPolicyViolation(t *testing.T) {
	g := newGateway(t)

	c := testutil.NewWSClient(t, g.url+"/ws")
	c.Send(protocol.TypeJoin, protocol.Join{SpaceID: "lobby", Token: "not-a-jwt"})

	_, err := c.TryRead(wait)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	eventually(t, func() bool { return g.sessions.Count() == 0 })
	rooms, _ := g.registry.Stats()
	assert.Equal(t, 0, rooms)
}

func TestGateway_UnknownSpaceClosesConnection(t *testing.T) {
	g := newGateway(t)

	c := testutil.NewWSClient(t, g.url+"/ws")
	c.Send(protocol.TypeJoin, protocol.Join{SpaceID: "attic", Token: token(t, "alice")})

	_, err := c.TryRead(wait)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestGateway_MalformedFrameKeepsConnection(t *testing.T) {
	g := newGateway(t)

	c := testutil.NewWSClient(t, g.url+"/ws")
	c.SendRaw([]byte("{not json"))
	c.Send("teleport", map[string]int{"x": 1})
	c.Send(protocol.TypeJoin, protocol.Join{SpaceID: "lobby", Token: token(t, "alice")})

	f := c.Read(wait)
	assert.Equal(t, protocol.TypeJoinedSnapshot, f.Type)
}

func TestGateway_SignalRelay(t *testing.T) {
	g := newGateway(t)

	alice, _ := g.join(t, "alice")
	bob, _ := g.join(t, "bob")

	offer := json.RawMessage(`{"sdp":"v=0","type":"offer"}`)
	alice.Send(protocol.TypeSignal, protocol.Signal{To: "bob", Signal: offer})

	sig := decode[protocol.VideoSignal](t, bob.ReadUntil(protocol.TypeVideoSignal, wait))
	assert.Equal(t, "alice", sig.From)
	assert.JSONEq(t, string(offer), string(sig.Signal))
}

func TestGateway_DrawAndErase(t *testing.T) {
	g := newGateway(t)

	alice, _ := g.join(t, "alice")
	bob, _ := g.join(t, "bob")

	alice.Send(protocol.TypeDraw, map[string]any{
		"id":    "r1",
		"shape": map[string]any{"kind": "rectangle", "x": 0, "y": 0, "width": 100, "height": 50},
	})
	for _, c := range []*testutil.WSClient{alice, bob} {
		d := decode[protocol.DrawDelta](t, c.ReadUntil(protocol.TypeDrawDelta, wait))
		assert.Equal(t, "r1", d.Entry.ID)
		assert.Equal(t, "alice", d.Entry.CreatedBy)
	}

	// A late joiner replays the log in its snapshot.
	_, snap := g.join(t, "carol")
	require.Len(t, snap.Surface, 1)
	assert.Equal(t, "r1", snap.Surface[0].ID)

	bob.Send(protocol.TypeErase, protocol.Erase{X: 0, Y: 25})
	ds := decode[protocol.DrawSync](t, alice.ReadUntil(protocol.TypeDrawSync, wait))
	assert.Empty(t, ds.Entries)
	assert.Equal(t, "r1", ds.RemovedID)
}

func TestGateway_StopClosesLiveConnections(t *testing.T) {
	g := newGateway(t)
	alice, _ := g.join(t, "alice")

	g.acc.Stop()

	var err error
	for err == nil {
		_, err = alice.TryRead(wait)
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, g.sessions.Count())

	resp, err := http.Get(g.url + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_OriginCheck(t *testing.T) {
	g := newGateway(t, func(c *config.WebSocketConfig) {
		c.AllowedOrigins = []string{"https://plaza.example"}
	})

	_, resp, err := testutil.DialWS(g.url+"/ws", http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := testutil.DialWS(g.url+"/ws", http.Header{"Origin": {"https://plaza.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestHealth(t *testing.T) {
	g := newGateway(t)
	g.join(t, "alice")

	resp, err := http.Get(g.url + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Rooms)
	assert.Equal(t, 1, body.Occupants)
	assert.Equal(t, 1, body.Sessions)
}

func TestHealth_FailingCheck(t *testing.T) {
	g := newGateway(t)
	g.acc.AddCheck("database", func(context.Context) error { return errors.New("connection refused") })

	resp, err := http.Get(g.url + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "connection refused", body.Checks["database"])
}

// A peer that never reads never answers pings, so its read deadline lapses
// and the departure path runs.
func TestGateway_KeepaliveDropsDeadPeer(t *testing.T) {
	g := newGateway(t, func(c *config.WebSocketConfig) {
		c.PingPeriod = 50 * time.Millisecond
		c.PongWait = 200 * time.Millisecond
	})

	watcher, _ := g.join(t, "watcher")

	conn, _, err := testutil.DialWS(g.url+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	frame, err := json.Marshal(map[string]any{
		"type":    protocol.TypeJoin,
		"payload": protocol.Join{SpaceID: "lobby", Token: token(t, "ghost")},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	joined := decode[protocol.UserJoined](t, watcher.ReadUntil(protocol.TypeUserJoined, wait))
	assert.Equal(t, "ghost", joined.UserID)

	left := decode[protocol.UserLeft](t, watcher.ReadUntil(protocol.TypeUserLeft, wait))
	assert.Equal(t, "ghost", left.UserID)
}
