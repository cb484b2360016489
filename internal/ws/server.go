// Package ws provides the WebSocket chat transport: one connection per
// attached client, instructions in, message envelopes out.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/winghv/newhorse/internal/config"
	"github.com/winghv/newhorse/internal/hub"
	"github.com/winghv/newhorse/internal/orchestrator"
)

// inbound is one client frame: either an instruction or a stop request.
type inbound struct {
	Action     string   `json:"action,omitempty"`
	Content    string   `json:"content"`
	Model      string   `json:"model,omitempty"`
	ProviderID string   `json:"provider_id,omitempty"`
	Images     []string `json:"images,omitempty"`
}

// Server handles WebSocket connections for chat conversations.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	orch     *orchestrator.Orchestrator
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, orch *orchestrator.Orchestrator) *Server {
	return &Server{
		cfg:  cfg,
		hub:  h,
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// same-host frontend plus local dev; no origin restriction
				return true
			},
		},
	}
}

// HandleChat upgrades the connection and runs the conversation transport.
func (s *Server) HandleChat(c echo.Context) error {
	projectID := c.Param("project_id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ERROR: websocket upgrade failed: %v", err)
		return err
	}

	endpoint := s.hub.Attach(projectID)
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn, endpoint)
	go s.readPump(conn, endpoint, projectID)

	return nil
}

// readPump reads client frames. Instructions go onto the conversation's
// serial queue; stop requests bypass the queue so they reach an in-flight
// generation immediately.
func (s *Server) readPump(conn *websocket.Conn, endpoint *hub.Endpoint, projectID string) {
	defer func() {
		s.hub.Detach(projectID, endpoint)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WARN: websocket read error: %v", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("WARN: invalid chat frame from project %s: %v", projectID, err)
			continue
		}

		if msg.Action == "stop" {
			go s.orch.Stop(context.Background(), projectID)
			continue
		}

		instr := orchestrator.Instruction{
			Content:    msg.Content,
			ModelID:    msg.Model,
			ProviderID: msg.ProviderID,
			Images:     msg.Images,
		}
		if !s.hub.Enqueue(projectID, func() {
			s.orch.Execute(context.Background(), projectID, instr)
		}) {
			log.Printf("WARN: dropping instruction for project %s, queue full", projectID)
		}
	}
}

// writePump forwards broadcast envelopes to the socket and keeps it alive
// with pings.
func (s *Server) writePump(conn *websocket.Conn, endpoint *hub.Endpoint) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-endpoint.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WARN: websocket write failed: %v", err)
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
