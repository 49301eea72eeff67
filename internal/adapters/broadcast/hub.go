package broadcast

// hub.go: fan-out de eventos del engine por websocket.
//
// Cada cliente tiene un buffer propio; Broadcast nunca bloquea: si un cliente
// no drena su buffer se le desconecta. El hub numera los eventos (Seq) para
// que los clientes detecten huecos.

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/updown/internal/domain"
)

const (
	defaultClientBuffer = 64
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = (pongWait * 9) / 10
	maxMessageSize      = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Solo lectura de eventos públicos; sin restricción de origen.
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub implementa ports.Broadcaster y sirve el endpoint websocket.
type Hub struct {
	bufSize int
	seq     atomic.Uint64

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub crea el hub. bufSize es el número de eventos en cola por cliente.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = defaultClientBuffer
	}
	return &Hub{
		bufSize: bufSize,
		clients: make(map[*client]struct{}),
	}
}

// Broadcast numera el evento y lo encola en todos los clientes.
func (h *Hub) Broadcast(evt domain.Event) {
	evt.Seq = h.seq.Add(1)
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("broadcast: marshal event", "type", evt.Type, "err", err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("broadcast: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.remove(c)
	}
}

// ServeHTTP acepta la conexión websocket y la registra.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("broadcast: websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.bufSize)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("broadcast: client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop descarta lo que manda el cliente; solo sirve para pongs y cierre.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Clients devuelve el número de clientes conectados.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close desconecta a todos los clientes y rechaza conexiones nuevas.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
