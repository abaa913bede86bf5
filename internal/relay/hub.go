// Package relay is the websocket room server collaborators connect to, and
// the client the editor uses to reach it. The server does no merging: gate
// updates are stamped with the sender's connection id and fanned out to the
// rest of the room.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"qcompose/internal/collab"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type conn struct {
	id    string
	ws    *websocket.Conn
	send  chan collab.Message
	rooms map[string]bool
}

// Hub tracks connections and room membership.
type Hub struct {
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics

	mu    sync.Mutex
	conns map[string]*conn
	rooms map[string]map[string]*conn
}

// NewHub returns an empty hub with its own metrics registry.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	return &Hub{
		log:     logger,
		reg:     reg,
		metrics: newMetrics(reg),
		conns:   make(map[string]*conn),
		rooms:   make(map[string]map[string]*conn),
	}
}

// Handler routes /ws, /healthz and /metrics.
func (h *Hub) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", h.handleWS)
	r.GET("/healthz", func(c *gin.Context) {
		h.mu.Lock()
		conns, rooms := len(h.conns), len(h.rooms)
		h.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": conns, "rooms": rooms})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.reg, promhttp.HandlerOpts{})))
	return r
}

// Serve listens on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.log.Info("relay listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.closeAll()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (h *Hub) handleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("failed to upgrade the websocket", "error", err)
		return
	}

	cn := &conn{
		id:    uuid.New().String(),
		ws:    ws,
		send:  make(chan collab.Message, sendBuffer),
		rooms: make(map[string]bool),
	}
	room := c.Query("room")
	h.register(cn)
	var peers []string
	if room != "" {
		_, peers = h.join(cn, room)
	}
	h.log.Info("relay client connected", "connectionId", cn.id, "room", room)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(cn)
	}()

	h.enqueue(cn, collab.Message{Type: collab.TypeConnectionEstablished, ConnectionID: cn.id})
	if room != "" {
		h.enqueue(cn, collab.Message{Type: collab.TypeRoomJoined, Room: room, Success: ptr(true), Peers: peers})
	}

	for {
		var msg collab.Message
		if err := ws.ReadJSON(&msg); err != nil {
			h.log.Info("relay client disconnected", "connectionId", cn.id, "error", err.Error())
			break
		}
		h.handle(cn, msg)
	}

	h.unregister(cn)
	<-done
}

func (h *Hub) writeLoop(cn *conn) {
	defer cn.ws.Close()
	for msg := range cn.send {
		_ = cn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cn.ws.WriteJSON(msg); err != nil {
			h.log.Warn("Failed to write WebSocket JSON", "connectionId", cn.id, "error", err)
			// closing unblocks the reader, which then closes send
			_ = cn.ws.Close()
			for range cn.send {
			}
			return
		}
	}
}

func (h *Hub) handle(cn *conn, msg collab.Message) {
	h.metrics.messages.WithLabelValues(msg.Type).Inc()
	switch msg.Type {
	case collab.TypePing:
		h.enqueue(cn, collab.Message{Type: collab.TypePong})
	case collab.TypeJoinRoom:
		if msg.Room == "" {
			h.enqueue(cn, collab.Message{Type: collab.TypeError, Error: "room is required"})
			return
		}
		_, peers := h.join(cn, msg.Room)
		h.enqueue(cn, collab.Message{Type: collab.TypeRoomJoined, Room: msg.Room, Success: ptr(true), Peers: peers})
	case collab.TypeLeaveRoom:
		if msg.Room == "" {
			h.enqueue(cn, collab.Message{Type: collab.TypeError, Error: "room is required"})
			return
		}
		ok := h.leave(cn, msg.Room)
		h.enqueue(cn, collab.Message{Type: collab.TypeRoomLeft, Room: msg.Room, Success: ptr(ok)})
	case collab.TypeGateOpUpdate:
		msg.ConnectionID = cn.id
		h.relay(cn, msg)
	case collab.TypeCursorMove:
		if msg.Position == nil {
			h.enqueue(cn, collab.Message{Type: collab.TypeError, Error: "position is required"})
			return
		}
		h.relay(cn, collab.Message{Type: collab.TypeCursorUpdate, Room: msg.Room, ConnectionID: cn.id, Position: msg.Position})
	default:
		h.enqueue(cn, collab.Message{Type: collab.TypeError, Error: "unknown message type " + msg.Type})
	}
}

// relay fans msg out to the sender's rooms, or only msg.Room when set.
func (h *Hub) relay(from *conn, msg collab.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	targets := make(map[string]*conn)
	for room := range from.rooms {
		if msg.Room != "" && room != msg.Room {
			continue
		}
		for id, member := range h.rooms[room] {
			if id != from.id {
				targets[id] = member
			}
		}
	}
	for _, member := range targets {
		out := msg
		if out.Room == "" {
			for room := range from.rooms {
				if member.rooms[room] {
					out.Room = room
					break
				}
			}
		}
		if h.offer(member, out) {
			h.metrics.relayed.Inc()
		}
	}
}

func (h *Hub) enqueue(cn *conn, msg collab.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[cn.id]; !ok {
		return
	}
	h.offer(cn, msg)
}

// offer queues msg without blocking. Callers hold mu.
func (h *Hub) offer(cn *conn, msg collab.Message) bool {
	select {
	case cn.send <- msg:
		return true
	default:
		h.metrics.dropped.Inc()
		h.log.Warn("relay client too slow, dropping message", "connectionId", cn.id, "type", msg.Type)
		return false
	}
}

func (h *Hub) register(cn *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[cn.id] = cn
	h.metrics.connections.Inc()
	h.announce(h.conns, cn.id, collab.Message{
		Type:             collab.TypeConnectionUpdate,
		Event:            collab.EventUserConnected,
		ConnectionID:     cn.id,
		TotalConnections: len(h.conns),
	})
}

// unregister removes cn everywhere, closes its send queue and tells the
// remaining connections.
func (h *Hub) unregister(cn *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[cn.id]; !ok {
		return
	}
	for room := range cn.rooms {
		h.leaveLocked(cn, room)
	}
	delete(h.conns, cn.id)
	close(cn.send)
	h.metrics.connections.Dec()
	h.announce(h.conns, cn.id, collab.Message{
		Type:             collab.TypeConnectionUpdate,
		Event:            collab.EventUserDisconnected,
		ConnectionID:     cn.id,
		TotalConnections: len(h.conns),
	})
}

// join adds cn to room and returns whether it was new there along with the
// ids of the other members.
func (h *Hub) join(cn *conn, room string) (bool, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*conn)
		h.rooms[room] = members
		h.metrics.rooms.Inc()
	}
	_, already := members[cn.id]
	members[cn.id] = cn
	cn.rooms[room] = true

	peers := make([]string, 0, len(members)-1)
	for id := range members {
		if id != cn.id {
			peers = append(peers, id)
		}
	}
	slices.Sort(peers)
	if !already {
		h.announce(members, cn.id, collab.Message{
			Type:         collab.TypeConnectionUpdate,
			Event:        collab.EventUserJoinedRoom,
			Room:         room,
			ConnectionID: cn.id,
		})
	}
	return !already, peers
}

func (h *Hub) leave(cn *conn, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.leaveLocked(cn, room) {
		return false
	}
	h.announce(h.rooms[room], cn.id, collab.Message{
		Type:         collab.TypeConnectionUpdate,
		Event:        collab.EventUserLeftRoom,
		Room:         room,
		ConnectionID: cn.id,
	})
	return true
}

// announce offers msg to every connection in to except skip. Callers hold mu.
func (h *Hub) announce(to map[string]*conn, skip string, msg collab.Message) {
	for id, member := range to {
		if id != skip {
			h.offer(member, msg)
		}
	}
}

func (h *Hub) leaveLocked(cn *conn, room string) bool {
	if !cn.rooms[room] {
		return false
	}
	delete(cn.rooms, room)
	members := h.rooms[room]
	delete(members, cn.id)
	if len(members) == 0 {
		delete(h.rooms, room)
		h.metrics.rooms.Dec()
	}
	return true
}

// closeAll drops every socket; read loops then unregister themselves.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cn := range h.conns {
		_ = cn.ws.Close()
	}
}

func ptr[T any](v T) *T { return &v }
