// Package ws provides the live-feed WebSocket endpoint of the dashboard.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/thaveesi/blackRabbit/internal/config"
	"github.com/thaveesi/blackRabbit/internal/domain"
	"github.com/thaveesi/blackRabbit/internal/hub"
	"github.com/thaveesi/blackRabbit/internal/metrics"
	"github.com/thaveesi/blackRabbit/internal/protocol"
	"github.com/thaveesi/blackRabbit/internal/tracker"
)

// Server handles live-feed WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	trackers *tracker.Registry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, trackers *tracker.Registry, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Server{
		cfg:      cfg,
		hub:      h,
		trackers: trackers,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The dashboard is served from the same origin or a local dev proxy.
				return true
			},
		},
	}
}

// NewEventPublisher returns a tracker callback that pushes every committed
// event list to the contract's subscribers.
func NewEventPublisher(h *hub.Hub, m *metrics.Metrics) tracker.UpdateFunc {
	if m == nil {
		m = metrics.NewNop()
	}
	return func(contractID string, events []domain.Event) {
		if !h.HasSubscribers(contractID) {
			return
		}
		if err := h.BroadcastJSON(contractID, eventsMessage(contractID, events)); err != nil {
			log.Printf("WARN: failed to encode events for contract %s: %v", contractID, err)
			return
		}
		m.WSMessagesTotal.WithLabelValues("out", protocol.TypeEvents).Inc()
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	s.metrics.WSConnectionsActive.Inc()

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// subscription is the per-connection state owned by readPump.
type subscription struct {
	contractID string
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	sub := &subscription{}
	defer func() {
		s.hub.Unregister(conn)
		if sub.contractID != "" {
			s.trackers.Release(sub.contractID)
		}
		s.metrics.WSConnectionsActive.Dec()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, sub, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, sub *subscription, data []byte) {
	var msg protocol.BaseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch msg.Type {
	case protocol.TypeSubscribe:
		s.metrics.WSMessagesTotal.WithLabelValues("in", msg.Type).Inc()
		s.handleSubscribe(conn, sub, msg.ContractID)
	case protocol.TypeUnsubscribe:
		s.metrics.WSMessagesTotal.WithLabelValues("in", msg.Type).Inc()
		s.handleUnsubscribe(conn, sub)
	default:
		s.metrics.WSMessagesTotal.WithLabelValues("in", "unknown").Inc()
		s.sendError(conn, msg.ContractID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe moves the connection onto contractID and sends the
// tracker's current snapshot right away.
func (s *Server) handleSubscribe(conn *hub.Connection, sub *subscription, contractID string) {
	if contractID == "" {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "contract_id is required")
		return
	}

	if sub.contractID != contractID {
		// Bind before acquiring so the tracker's first commit reaches us.
		s.hub.BindContract(conn, contractID)
		tr := s.trackers.Acquire(contractID)
		if sub.contractID != "" {
			s.trackers.Release(sub.contractID)
		}
		if tr == nil {
			s.hub.UnbindContract(conn)
			sub.contractID = ""
			s.sendError(conn, contractID, protocol.ErrorCodeUnavailable, "live feed is shutting down")
			return
		}
		sub.contractID = contractID
		log.Printf("Connection %s subscribed to contract %s", conn.ID, contractID)
	}

	s.send(conn, protocol.SubscribedMessage{
		BaseMessage: protocol.BaseMessage{
			Type:       protocol.TypeSubscribed,
			Ts:         time.Now().UnixMilli(),
			ContractID: contractID,
		},
	}, protocol.TypeSubscribed)

	if tr, ok := s.trackers.Lookup(contractID); ok && tr.Ready() {
		s.send(conn, eventsMessage(contractID, tr.Events()), protocol.TypeEvents)
	}
}

func (s *Server) handleUnsubscribe(conn *hub.Connection, sub *subscription) {
	previous := sub.contractID
	if previous != "" {
		s.hub.UnbindContract(conn)
		s.trackers.Release(previous)
		sub.contractID = ""
	}
	s.send(conn, protocol.BaseMessage{
		Type:       protocol.TypeUnsubscribed,
		Ts:         time.Now().UnixMilli(),
		ContractID: previous,
	}, protocol.TypeUnsubscribed)
}

func (s *Server) send(conn *hub.Connection, v interface{}, msgType string) {
	if err := s.hub.SendJSONToConnection(conn, v); err != nil {
		log.Printf("WARN: failed to send %s to connection %s: %v", msgType, conn.ID, err)
		return
	}
	s.metrics.WSMessagesTotal.WithLabelValues("out", msgType).Inc()
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, contractID, code, message string) {
	s.send(conn, protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:       protocol.TypeError,
			Ts:         time.Now().UnixMilli(),
			ContractID: contractID,
		},
		Code:    code,
		Message: message,
	}, protocol.TypeError)
}

func eventsMessage(contractID string, events []domain.Event) protocol.EventsMessage {
	if events == nil {
		events = []domain.Event{}
	}
	return protocol.EventsMessage{
		BaseMessage: protocol.BaseMessage{
			Type:       protocol.TypeEvents,
			Ts:         time.Now().UnixMilli(),
			ContractID: contractID,
		},
		Events: events,
	}
}
