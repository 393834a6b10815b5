// Package hub is the websocket gateway. It upgrades connections, authenticates
// them with a session token on the first frame, and routes cmd.* envelopes to
// the game rooms. Each connection is a game.Sink, so room broadcasts and
// notification pushes land straight on its send queue.
package hub

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jbbjarnason/fivesuitsrummy/internal/auth"
	"github.com/jbbjarnason/fivesuitsrummy/internal/codec"
	"github.com/jbbjarnason/fivesuitsrummy/internal/game"
	"github.com/jbbjarnason/fivesuitsrummy/internal/token"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Restrict in production
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	// An unauthenticated socket gets this long to send cmd.hello.
	helloWait    = 10 * time.Second
	maxFrameSize = 65536
	sendBuffer   = 256
)

// Connection is one websocket client. A user may hold several at once
// (phone and browser); each subscribes to rooms independently.
type Connection struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	userID int64 // 0 until cmd.hello verifies
	room   *game.Room
}

// UserID implements game.Sink.
func (c *Connection) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Send implements game.Sink. It never blocks; a connection whose send queue
// is full has stopped draining and loses the frame.
func (c *Connection) Send(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// UserDirectory resolves a session subject to an account. The hub only cares
// about existence; auth.Service satisfies it.
type UserDirectory interface {
	UserByID(ctx context.Context, id int64) (auth.User, error)
}

// Hub tracks live connections per user.
type Hub struct {
	registry *game.Registry
	signer   *token.Signer
	users    UserDirectory

	mu    sync.RWMutex
	conns map[int64]map[*Connection]struct{}
}

func New(registry *game.Registry, signer *token.Signer, users UserDirectory) *Hub {
	return &Hub{
		registry: registry,
		signer:   signer,
		users:    users,
		conns:    make(map[int64]map[*Connection]struct{}),
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] upgrade error: %v", err)
		return
	}

	c := &Connection{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.readPump()
	go c.writePump()
}

// SendToUser pushes data to every live socket of userID. Returns true when at
// least one socket was reachable.
func (h *Hub) SendToUser(userID int64, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.conns[userID]
	for c := range set {
		c.Send(data)
	}
	return len(set) > 0
}

// Online reports whether userID has at least one live socket.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

func (h *Hub) register(c *Connection, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[userID]
	if set == nil {
		set = make(map[*Connection]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}
	log.Printf("[Hub] user %d connected, sockets: %d", userID, len(set))
}

func (h *Hub) unregister(c *Connection) {
	userID := c.UserID()
	if userID == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.conns[userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
	log.Printf("[Hub] user %d disconnected", userID)
}

func (c *Connection) readPump() {
	defer func() {
		c.leaveRoom()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	// Tight deadline until the client authenticates.
	c.conn.SetReadDeadline(time.Now().Add(helloWait))
	c.conn.SetPongHandler(func(string) error {
		if c.UserID() != 0 {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] read error: %v", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Connection) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) handleMessage(data []byte) {
	env, payload, err := c.decode(data)
	if err != nil {
		return
	}

	if env.Type == codec.CmdHello {
		c.handleHello(env, payload.(*codec.HelloCmd))
		return
	}

	userID := c.UserID()
	if userID == 0 {
		c.sendError(env.ClientSeq, "unauthenticated", "send cmd.hello first")
		return
	}

	switch env.Type {
	case codec.CmdJoinGame:
		c.handleJoinGame(env, payload.(*codec.JoinGameCmd))
	case codec.CmdLeaveGame:
		c.leaveRoom()
	case codec.CmdStartGame, codec.CmdDraw, codec.CmdLayMelds,
		codec.CmdLayOff, codec.CmdDiscard, codec.CmdGoOut:
		c.handleGameplay(env, payload)
	}
}

func (c *Connection) decode(data []byte) (codec.Envelope, any, error) {
	env, payload, err := codec.DecodeCommand(data)
	if err != nil {
		code := "malformed"
		if _, unknown := err.(*codec.UnknownTypeError); unknown {
			code = "unknown_type"
		}
		c.sendError(env.ClientSeq, code, err.Error())
		return env, nil, err
	}
	return env, payload, nil
}

func (c *Connection) handleHello(env codec.Envelope, p *codec.HelloCmd) {
	userID, err := c.hub.signer.VerifySession(p.Token)
	if err != nil {
		c.sendError(env.ClientSeq, "unauthenticated", "invalid session token")
		// Give the client one more hello attempt within the grace window.
		return
	}

	// A valid signature is not enough: the account must still exist, or a
	// token minted before deletion would keep authenticating.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_, err = c.hub.users.UserByID(ctx, userID)
	cancel()
	if err != nil {
		c.sendError(env.ClientSeq, "unauthenticated", "unknown account")
		return
	}

	c.mu.Lock()
	already := c.userID != 0
	c.userID = userID
	c.mu.Unlock()
	if !already {
		c.hub.register(c, userID)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	data, err := codec.EncodeEvent(codec.EvtHello, codec.HelloEvt{UserID: userID})
	if err == nil {
		c.Send(data)
	}
}

// handleJoinGame attaches the socket to a room the user is already seated in.
// Seating itself happens over REST; this only opens the event stream.
func (c *Connection) handleJoinGame(env codec.Envelope, p *codec.JoinGameCmd) {
	room, ok := c.hub.registry.Get(p.GameID)
	if !ok {
		c.sendError(env.ClientSeq, "game_not_found", "no such game")
		return
	}
	if !room.IsMember(c.UserID()) {
		c.sendError(env.ClientSeq, "not_in_game", "join the game first")
		return
	}

	c.leaveRoom()
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	room.Subscribe(c)
	log.Printf("[Hub] user %d watching game %s", c.UserID(), room.ID)
}

func (c *Connection) handleGameplay(env codec.Envelope, payload any) {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil {
		c.sendError(env.ClientSeq, "not_in_game", "send cmd.joinGame first")
		return
	}

	// The room reports rule errors back through this sink itself.
	if err := room.HandleCommand(env.Type, c.UserID(), env.ClientSeq, payload, c); err != nil {
		log.Printf("[Hub] user %d %s on game %s rejected: %v", c.UserID(), env.Type, room.ID, err)
	}
}

func (c *Connection) leaveRoom() {
	c.mu.Lock()
	room := c.room
	c.room = nil
	c.mu.Unlock()
	if room != nil {
		room.Unsubscribe(c)
	}
}

func (c *Connection) sendError(clientSeq int64, code, msg string) {
	data, err := codec.EncodeEvent(codec.EvtError, codec.ErrorEvt{
		Code:      code,
		Message:   msg,
		ClientSeq: clientSeq,
	})
	if err != nil {
		return
	}
	c.Send(data)
}
