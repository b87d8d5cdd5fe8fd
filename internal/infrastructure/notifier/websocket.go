package notifier

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/crossfusion/swapd/internal/core/ports"
)

const wsWriteWait = 5 * time.Second

// WebsocketHub broadcasts notifications to every connected websocket client.
// Slow or broken clients are dropped rather than allowed to block a publish.
type WebsocketHub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewWebsocketHub() *WebsocketHub {
	return &WebsocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// HandleUpgrade upgrades an HTTP request and registers the connection for
// broadcasts. The connection is read-drained so that control frames are
// handled and disconnects are noticed.
func (h *WebsocketHub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade websocket connection")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebsocketHub) Publish(ctx context.Context, n ports.Notification) error {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		// nolint:all
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(n); err != nil {
			log.WithError(err).Debug("dropping websocket client")
			h.drop(conn)
		}
	}
	return nil
}

func (h *WebsocketHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		// nolint:all
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}

func (h *WebsocketHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		// nolint:all
		conn.Close()
	}
}
