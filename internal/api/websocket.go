package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signal-core/internal/bus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope tags every streamed message with its source topic.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// websocket streams market ticks and audit entries to the dashboard.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.events == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	ticks, unsubTicks := s.events.Subscribe(bus.TopicMarketData, 100)
	defer unsubTicks()
	entries, unsubAudit := s.events.Subscribe(bus.TopicAuditEntry, 100)
	defer unsubAudit()

	// We never expect client messages, but reading is the only way to
	// notice the peer going away while the bus is quiet.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-ticks:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsEnvelope{Type: "tick", Data: msg}); err != nil {
				return
			}
		case msg, ok := <-entries:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsEnvelope{Type: "audit", Data: msg}); err != nil {
				return
			}
		}
	}
}
