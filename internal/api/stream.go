package api

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader with origin validation. In production (BIOWALLET_ENV=production),
// only origins listed in BIOWALLET_ALLOWED_ORIGINS are accepted. In
// dev/staging, all origins are allowed.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 4 * 1024         // Clients only send control frames
	sendBuffer = 256              // Per-client outbound channel buffer
)

// buildCheckOrigin returns a CheckOrigin function based on the
// deployment environment.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("BIOWALLET_ENV")
	allowedRaw := os.Getenv("BIOWALLET_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				return true
			}
			slog.Info("[Stream] Rejected connection from origin", "origin", origin)
			return false
		}
	}

	if env == "production" && allowedRaw == "" {
		slog.Warn("[Stream] BIOWALLET_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(r *http.Request) bool { return true }
}

// streamClient is one frontend connection receiving the live event
// stream. All writes go through the Send channel into writePump, so ping
// and event writes never race on the connection.
type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards inbound frames; it exists to service pong and close
// handshakes and to notice a dropped peer.
func (c *streamClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleStream upgrades the connection and forwards every bus event to
// the client until either side disconnects. Slow clients drop events
// rather than block the bus.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Stream] WebSocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	sub := s.bus.Subscribe()
	slog.Info("[Stream] Client connected", "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()

	go func() {
		defer func() {
			s.bus.Unsubscribe(sub)
			client.close()
			slog.Info("[Stream] Client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				raw, err := ev.JSON()
				if err != nil {
					continue
				}
				select {
				case client.send <- raw:
				default:
					// Slow client, drop the event.
				}
			case <-client.done:
				return
			}
		}
	}()
}
