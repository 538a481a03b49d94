package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/groutine"
	"github.com/srg/straightup/internal/orchestrator"
)

// WebSocket message types of the live feed
const (
	// Client -> Server
	MsgTypePing = "ping"

	// Server -> Client
	MsgTypeConnected = "connected"
	MsgTypeSnapshot  = "snapshot"
	MsgTypeLog       = "log"
	MsgTypeStatus    = "status"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

// WSMessage is the envelope of every feed message
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams session log entries and posture status changes.
type WebSocketHandler struct {
	device   Device
	posture  Posture
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewWebSocketHandler creates the feed handler. posture may be nil, in which
// case only log entries are streamed.
func NewWebSocketHandler(d Device, p Posture, logger *logrus.Logger) *WebSocketHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebSocketHandler{
		device:  d,
		posture: p,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		now: time.Now,
	}
}

// HandleLogFeed upgrades the connection, sends the current log as a snapshot
// and then every new entry and status change until the client goes away.
func (wsh *WebSocketHandler) HandleLogFeed(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	entries, unsubscribe := wsh.device.Log().Subscribe()
	defer unsubscribe()

	var statuses <-chan orchestrator.Status
	if wsh.posture != nil {
		ch, cancelStatus := wsh.posture.Subscribe()
		defer cancelStatus()
		statuses = ch
	}

	remote := c.RealIP()
	wsh.logger.WithField("remote", remote).Debug("Log feed client connected")
	defer wsh.logger.WithField("remote", remote).Debug("Log feed client disconnected")

	if !wsh.send(ws, MsgTypeConnected, nil) || !wsh.send(ws, MsgTypeSnapshot, wsh.device.Log().Snapshot()) {
		return nil
	}
	if wsh.posture != nil && !wsh.send(ws, MsgTypeStatus, wsh.posture.Status()) {
		return nil
	}

	incoming := make(chan WSMessage)
	groutine.Go(ctx, "api-ws-reader", func(ctx context.Context) {
		wsh.readLoop(ctx, ws, incoming)
	})

	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			switch msg.Type {
			case MsgTypePing:
				if !wsh.send(ws, MsgTypePong, nil) {
					return nil
				}
			default:
				if !wsh.send(ws, MsgTypeError, WSErrorPayload{Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"}) {
					return nil
				}
			}
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			if !wsh.send(ws, MsgTypeLog, e) {
				return nil
			}
		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			if !wsh.send(ws, MsgTypeStatus, st) {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// readLoop forwards client messages until the connection fails. It closes out
// when done.
func (wsh *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, out chan<- WSMessage) {
	defer close(out)
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.WithError(err).Debug("Log feed connection error")
			}
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, msgType string, payload any) bool {
	msg := WSMessage{Type: msgType, Timestamp: wsh.now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			wsh.logger.WithError(err).WithField("type", msgType).Warn("Failed to encode feed message")
			return true
		}
		msg.Payload = data
	}
	if err := ws.WriteJSON(msg); err != nil {
		wsh.logger.WithError(err).Debug("Failed to send feed message")
		return false
	}
	return true
}
