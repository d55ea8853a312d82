package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/inventory.report/internal/broadcast"
)

const maxInboundBytes = 4096

// handleWebSocket upgrades the request, registers the connection with the
// hub and serves inbound requests until the observer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := s.hub.AddSubscriber(broadcast.NewWSTransport(conn))
	if id == "" {
		return
	}
	defer s.hub.RemoveSubscriber(id)

	conn.SetReadLimit(maxInboundBytes)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "subscriber", id, "error", err)
			}
			return
		}
		s.handleInbound(id, data)
	}
}

func (s *Server) handleInbound(id string, data []byte) {
	in, err := broadcast.ParseInbound(data)
	if err != nil {
		s.logger.Warn("ignoring malformed message", "subscriber", id, "error", err)
		return
	}

	switch in.Type {
	case broadcast.TypePing:
		s.hub.SendTo(id, broadcast.NewMessage(broadcast.TypePong, nil, s.clock.Now()))
	case broadcast.TypeRequestFrame:
		if !s.hub.SendLatest(id, broadcast.TypeFrame) {
			s.logger.Debug("no frame to send yet", "subscriber", id)
		}
	default:
		s.logger.Warn("ignoring unknown message type", "subscriber", id, "type", in.Type)
	}
}
