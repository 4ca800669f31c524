package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"execution-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams order events. Browsers cannot set headers on the
// upgrade, so the token comes in the query string.
func (s *Server) websocket(c *gin.Context) {
	operator, err := parseToken(c.Query("token"), s.JWTSecret)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.SubscribeMany(events.AllOrderEvents, 100)
	defer unsub()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Info("ws subscriber connected", zap.String("operator", operator))
	for {
		select {
		case <-closed:
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}
