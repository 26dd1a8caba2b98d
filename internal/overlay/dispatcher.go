// Package overlay fans chat-driven events out to connected stream
// overlay pages over WebSocket. Overlay clients are write-only: whatever
// they send is read and discarded.
package overlay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kcstream/kcchat/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Overlay pages are served from the streamer's own site.
		return true
	},
}

type client struct {
	dispatcher *Dispatcher
	conn       *websocket.Conn
	send       chan []byte
	id         string
}

// Dispatcher maintains the connected overlay clients and broadcasts
// events to all of them. Events arrive from the chat loop through Send.
type Dispatcher struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	messages   chan Message
	mu         sync.RWMutex
}

// NewDispatcher creates an overlay dispatcher. Call Run to start it.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		messages:   make(chan Message, 256),
	}
}

// Run is the dispatcher's main loop. It returns when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case client := <-d.register:
			d.mu.Lock()
			d.clients[client] = true
			d.mu.Unlock()
			metrics.OverlayClientsActive.Inc()
			log.Debug().Str("client", client.id).Str("remote", client.conn.RemoteAddr().String()).Msg("Overlay client connected")

		case client := <-d.unregister:
			d.mu.Lock()
			if _, ok := d.clients[client]; ok {
				delete(d.clients, client)
				close(client.send)
				metrics.OverlayClientsActive.Dec()
			}
			d.mu.Unlock()
			log.Debug().Str("client", client.id).Msg("Overlay client disconnected")

		case msg := <-d.messages:
			d.dispatch(msg)

		case <-ctx.Done():
			d.closeAll()
			return
		}
	}
}

// Send queues an overlay event for broadcast. It never blocks the
// caller; when the queue is full the event is dropped.
func (d *Dispatcher) Send(msg Message) {
	select {
	case d.messages <- msg:
	default:
		log.Warn().Str("type", msg.Type).Msg("Overlay message queue full, dropping event")
	}
}

// HandleWebSocket upgrades an overlay page connection and registers it.
func (d *Dispatcher) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade overlay connection")
		return
	}

	c := &client{
		dispatcher: d,
		conn:       conn,
		send:       make(chan []byte, 64),
		id:         uuid.New().String(),
	}

	d.register <- c

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected overlay clients.
func (d *Dispatcher) ClientCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

func (d *Dispatcher) dispatch(msg Message) {
	if msg.Type == "" {
		return
	}

	log.Info().Str("type", msg.Type).Str("title", msg.Title).Str("subtitle", msg.Subtitle).Str("name", msg.Name).Msg("Overlay event")

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal overlay event")
		return
	}

	d.mu.RLock()
	clients := make([]*client, 0, len(d.clients))
	for c := range d.clients {
		clients = append(clients, c)
	}
	d.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client's send channel is full, close it
			d.mu.Lock()
			if _, ok := d.clients[c]; ok {
				delete(d.clients, c)
				close(c.send)
				metrics.OverlayClientsActive.Dec()
			}
			d.mu.Unlock()
		}
	}
}

func (d *Dispatcher) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		delete(d.clients, c)
		close(c.send)
		metrics.OverlayClientsActive.Dec()
	}
}

// readPump discards everything the overlay page sends and unregisters
// the client when the connection drops.
func (c *client) readPump() {
	defer func() {
		c.dispatcher.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("client", c.id).Msg("Overlay read error")
			}
			break
		}
	}
}

// writePump sends queued events to the overlay page and keeps the
// connection alive with pings.
func (c *client) writePump() {
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
