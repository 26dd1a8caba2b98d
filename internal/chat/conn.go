package chat

import (
	"net"
	"net/http"
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

	// No more than rateLimitCount frames per rateLimitWindow per
	// connection; excess frames are discarded before any other work.
	rateLimitCount    = 10
	rateLimitWindowMs = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Chat clients are browser pages on the streamer's site.
		return true
	},
}

// Conn is the per-connection state. It is created at accept time and
// owned by the chat loop; only the send channel is touched from other
// goroutines.
type Conn struct {
	id   string
	host string
	sock *websocket.Conn
	send chan []byte

	// Arrival times (unix ms) of the most recent frames, for the
	// sliding-window rate limiter. Loop-owned.
	access []int64
}

func newConn(sock *websocket.Conn, host string) *Conn {
	return &Conn{
		id:   uuid.New().String(),
		host: host,
		sock: sock,
		send: make(chan []byte, 64),
	}
}

// Host returns the peer address without the port.
func (c *Conn) Host() string { return c.host }

// enqueue queues a frame for delivery. It never blocks: frames to a
// dead or saturated connection are dropped, which makes sends to
// disconnected sockets a safe no-op for late callbacks.
func (c *Conn) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// allowFrame records a frame arrival and reports whether it may be
// processed. With the window full, a frame arriving before the oldest
// recorded arrival has aged out is discarded. Dropped frames still
// count as arrivals.
func (c *Conn) allowFrame(nowMs int64) bool {
	allowed := len(c.access) < rateLimitCount || nowMs-c.access[0] >= rateLimitWindowMs

	c.access = append(c.access, nowMs)
	if len(c.access) > rateLimitCount {
		c.access = c.access[1:]
	}

	return allowed
}

// peerHost extracts the bare IP from a RemoteAddr string.
func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// readPump reads frames off the socket and hands each one to the chat
// loop. It exits when the connection drops, posting the disconnect.
func (c *Conn) readPump(s *Server) {
	defer func() {
		s.post(func() { s.disconnect(c) })
		c.sock.Close()
	}()

	c.sock.SetReadLimit(int64(s.maxChatLength*4 + 4096))
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.id).Msg("Chat read error")
			}
			return
		}
		frame := data
		s.post(func() { s.handleFrame(c, frame) })
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
		metrics.ConnectionsActive.Dec()
	}()

	for {
		select {
		case data := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
