package hub

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
)

const writeTimeout = 10 * time.Second

// Resolver looks up the calendar a client asks to join.
type Resolver interface {
	Join(shareCode string) (*domain.Calendar, error)
}

// Hub accepts websocket clients and fans calendar changes out to rooms.
type Hub struct {
	resolver Resolver

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]*client
}

type client struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex
	rooms   map[string]struct{} // guarded by Hub.mu
}

func New(resolver Resolver) *Hub {
	return &Hub{
		resolver: resolver,
		clients:  make(map[string]*client),
		rooms:    make(map[string]map[string]*client),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		id:    uuid.NewString(),
		conn:  conn,
		rooms: make(map[string]struct{}),
	}
	h.register(c)
	log.Debug("client connected", "client_id", c.id, "remote", r.RemoteAddr)

	go h.serve(c)
}

func (h *Hub) serve(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		log.Debug("client disconnected", "client_id", c.id)
	}()

	for {
		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("dropping malformed client message", "client_id", c.id, "err", err)
			continue
		}
		h.handle(c, env)
	}
}

func (h *Hub) handle(c *client, env domain.Envelope) {
	var req domain.RoomRequest
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.Warn("dropping malformed room request", "client_id", c.id, "type", env.Type, "err", err)
			return
		}
	}
	code := domain.NormalizeShareCode(req.ShareCode)

	switch env.Type {
	case domain.MsgJoinCalendar:
		if code == "" {
			return
		}
		cal, err := h.resolver.Join(code)
		if err != nil {
			// Unknown codes are ignored, the client simply never hears back.
			log.Debug("join rejected", "client_id", c.id, "share_code", code, "err", err)
			return
		}
		h.join(c, domain.RoomName(code))

		reply, err := domain.NewEnvelope(domain.MsgJoinedCalendar, domain.JoinedCalendar{Calendar: *cal})
		if err != nil {
			log.Error("build joined reply", err)
			return
		}
		if err := h.send(c, reply); err != nil {
			log.Warn("send joined reply failed", "client_id", c.id, "err", err)
		}

	case domain.MsgLeaveCalendar:
		if code == "" {
			return
		}
		h.leave(c, domain.RoomName(code))

	default:
		log.Debug("ignoring client message", "client_id", c.id, "type", env.Type)
	}
}

// Broadcast sends env to every client in the calendar's room.
func (h *Hub) Broadcast(shareCode string, env domain.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error("marshal broadcast", err, "type", env.Type)
		return
	}

	room := domain.RoomName(shareCode)
	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.write(data); err != nil {
			log.Warn("broadcast to client failed", "client_id", c.id, "room", room, "err", err)
			c.conn.Close()
		}
	}
	log.Debug("broadcast", "room", room, "type", env.Type, "clients", len(members))
}

// RoomSize returns the number of clients in the calendar's room.
func (h *Hub) RoomSize(shareCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[domain.RoomName(shareCode)])
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]net.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.rooms {
		h.removeFromRoom(c, room)
	}
	delete(h.clients, c.id)
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*client)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
	log.Debug("client joined room", "client_id", c.id, "room", room)
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(c, room)
	log.Debug("client left room", "client_id", c.id, "room", room)
}

// removeFromRoom requires h.mu held for writing.
func (h *Hub) removeFromRoom(c *client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) send(c *client, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}
