package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbbjarnason/fivesuitsrummy/internal/auth"
	"github.com/jbbjarnason/fivesuitsrummy/internal/codec"
	"github.com/jbbjarnason/fivesuitsrummy/internal/game"
	"github.com/jbbjarnason/fivesuitsrummy/internal/store"
	"github.com/jbbjarnason/fivesuitsrummy/internal/token"
)

// fakeDirectory is a UserDirectory where every account exists until a test
// removes it.
type fakeDirectory struct {
	mu   sync.Mutex
	gone map[int64]bool
}

func (d *fakeDirectory) UserByID(_ context.Context, id int64) (auth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone[id] {
		return auth.User{}, auth.ErrUserNotFound
	}
	return auth.User{ID: id}, nil
}

func (d *fakeDirectory) remove(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone == nil {
		d.gone = make(map[int64]bool)
	}
	d.gone[id] = true
}

type testEnv struct {
	t        *testing.T
	server   *httptest.Server
	registry *game.Registry
	signer   *token.Signer
	users    *fakeDirectory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := game.NewRegistry(st)
	t.Cleanup(registry.StopAll)

	signer, err := token.NewSigner("test-session-secret", "", "")
	require.NoError(t, err)

	users := &fakeDirectory{}
	h := New(registry, signer, users)
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(server.Close)

	return &testEnv{t: t, server: server, registry: registry, signer: signer, users: users}
}

func (e *testEnv) dial() *websocket.Conn {
	e.t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, clientSeq int64, payload any) {
	t.Helper()
	env := codec.Envelope{Type: typ, ClientSeq: clientSeq}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Data = data
	}
	require.NoError(t, conn.WriteJSON(env))
}

func recvType(t *testing.T, conn *websocket.Conn, typ string) codec.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env codec.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", typ)
		if env.Type == typ {
			return env
		}
	}
}

func authedConn(e *testEnv, userID int64) *websocket.Conn {
	e.t.Helper()
	conn := e.dial()
	tok, err := e.signer.IssueSession(userID)
	require.NoError(e.t, err)
	send(e.t, conn, codec.CmdHello, 1, &codec.HelloCmd{Token: tok})
	env := recvType(e.t, conn, codec.EvtHello)
	var hello codec.HelloEvt
	require.NoError(e.t, json.Unmarshal(env.Data, &hello))
	require.Equal(e.t, userID, hello.UserID)
	return conn
}

func TestHelloAuthentication(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial()

	// Commands before hello are refused.
	send(t, conn, codec.CmdJoinGame, 5, &codec.JoinGameCmd{GameID: "nope"})
	env := recvType(t, conn, codec.EvtError)
	var e1 codec.ErrorEvt
	require.NoError(t, json.Unmarshal(env.Data, &e1))
	assert.Equal(t, "unauthenticated", e1.Code)
	assert.Equal(t, int64(5), e1.ClientSeq)

	// Garbage token is refused, socket survives for a retry.
	send(t, conn, codec.CmdHello, 6, &codec.HelloCmd{Token: "garbage"})
	env = recvType(t, conn, codec.EvtError)
	require.NoError(t, json.Unmarshal(env.Data, &e1))
	assert.Equal(t, "unauthenticated", e1.Code)

	tok, err := e.signer.IssueSession(42)
	require.NoError(t, err)
	send(t, conn, codec.CmdHello, 7, &codec.HelloCmd{Token: tok})
	env = recvType(t, conn, codec.EvtHello)
	var hello codec.HelloEvt
	require.NoError(t, json.Unmarshal(env.Data, &hello))
	assert.Equal(t, int64(42), hello.UserID)
}

func TestHelloRejectsDeletedAccount(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial()

	tok, err := e.signer.IssueSession(77)
	require.NoError(t, err)
	e.users.remove(77)

	// The signature still verifies, but the account is gone.
	send(t, conn, codec.CmdHello, 1, &codec.HelloCmd{Token: tok})
	env := recvType(t, conn, codec.EvtError)
	var ev codec.ErrorEvt
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, "unauthenticated", ev.Code)

	// The socket stays unauthenticated for every later command.
	send(t, conn, codec.CmdJoinGame, 2, &codec.JoinGameCmd{GameID: "any"})
	env = recvType(t, conn, codec.EvtError)
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, "unauthenticated", ev.Code)
}

func TestJoinGameRequiresMembership(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	room, err := e.registry.Create(ctx, 100, 4)
	require.NoError(t, err)

	outsider := authedConn(e, 999)
	send(t, outsider, codec.CmdJoinGame, 2, &codec.JoinGameCmd{GameID: room.ID})
	env := recvType(t, outsider, codec.EvtError)
	var ev codec.ErrorEvt
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, "not_in_game", ev.Code)

	send(t, outsider, codec.CmdJoinGame, 3, &codec.JoinGameCmd{GameID: "missing"})
	env = recvType(t, outsider, codec.EvtError)
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, "game_not_found", ev.Code)
}

func TestGameplayFlowOverSocket(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	room, err := e.registry.Create(ctx, 100, 4)
	require.NoError(t, err)
	require.NoError(t, room.Join(200))

	host := authedConn(e, 100)
	guest := authedConn(e, 200)

	send(t, host, codec.CmdJoinGame, 2, &codec.JoinGameCmd{GameID: room.ID})
	hostState := stateFrom(t, recvType(t, host, codec.EvtState))
	assert.Equal(t, "lobby", hostState.Status)

	send(t, guest, codec.CmdJoinGame, 2, &codec.JoinGameCmd{GameID: room.ID})
	recvType(t, guest, codec.EvtState)

	// Guest may not start the host's lobby.
	send(t, guest, codec.CmdStartGame, 3, nil)
	errEnv := recvType(t, guest, codec.EvtError)
	var ev codec.ErrorEvt
	require.NoError(t, json.Unmarshal(errEnv.Data, &ev))
	assert.Equal(t, "not_in_lobby", ev.Code)
	assert.Equal(t, int64(3), ev.ClientSeq)

	send(t, host, codec.CmdStartGame, 3, nil)
	hostState = stateFrom(t, recvType(t, host, codec.EvtState))
	guestState := stateFrom(t, recvType(t, guest, codec.EvtState))
	assert.Equal(t, "active", hostState.Status)
	require.Len(t, hostState.Players[0].Hand, 3)
	assert.Empty(t, guestState.Players[0].Hand, "opponent hand stays hidden")
	assert.Equal(t, 3, guestState.Players[0].HandCount)

	// One full host turn, both sockets observe the broadcasts.
	send(t, host, codec.CmdDraw, 4, &codec.DrawCmd{Source: "stock"})
	hostState = stateFrom(t, recvType(t, host, codec.EvtState))
	require.Len(t, hostState.Players[0].Hand, 4)
	recvType(t, guest, codec.EvtState)

	send(t, host, codec.CmdDiscard, 5, &codec.DiscardCmd{Card: hostState.Players[0].Hand[0]})
	hostState = stateFrom(t, recvType(t, host, codec.EvtState))
	guestState = stateFrom(t, recvType(t, guest, codec.EvtState))
	assert.Equal(t, 1, hostState.TurnSeat)
	assert.Equal(t, 1, guestState.TurnSeat)
}

func stateFrom(t *testing.T, env codec.Envelope) codec.StateEvt {
	t.Helper()
	var st codec.StateEvt
	require.NoError(t, json.Unmarshal(env.Data, &st))
	return st
}
