package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/chat"
	"github.com/casebot/backend/pkg/logger"
)

type WebSocketHandler struct {
	orchestrator *chat.Orchestrator
}

func NewWebSocketHandler(orchestrator *chat.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator: orchestrator,
	}
}

// Upgrade rejects plain HTTP requests on the chat route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established", zap.String("remote", c.RemoteAddr().String()))

	conv := chat.NewConversation(h.orchestrator)
	transport := &wsTransport{
		conn:      c,
		asJSON:    c.Query("format") == "json",
		sessionID: conv.SessionID,
	}

	err := conv.Run(context.Background(), transport)
	c.Close()

	if err != nil && !isNormalClose(err) {
		logger.Warn("WebSocket connection ended", zap.String("session_id", conv.SessionID()), zap.Error(err))
		return
	}
	logger.Info("WebSocket connection closed", zap.String("session_id", conv.SessionID()))
}

type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

// wsTransport adapts a websocket connection to chat.Transport. Replies are
// plain text unless the client asked for JSON with ?format=json.
type wsTransport struct {
	conn      wsConn
	asJSON    bool
	sessionID func() string
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		mt, msg, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (t *wsTransport) Send(ctx context.Context, text string) error {
	if !t.asJSON {
		return t.conn.WriteMessage(websocket.TextMessage, []byte(text))
	}

	data, err := json.Marshal(fiber.Map{
		"session_id": t.sessionID(),
		"reply":      text,
	})
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
