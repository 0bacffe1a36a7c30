package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"PredPulse/internal/domain/models"
	"PredPulse/internal/registry"
	xlogger "PredPulse/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades clients to WebSocket and bridges them into the
// connection registry. Outbound frames are owned by the registry's per
// subscriber write pump; this handler only reads.
type Handler struct {
	registry *registry.Registry
	logger   *xlogger.Logger
}

func NewHandler(r *registry.Registry, logger *xlogger.Logger) *Handler {
	return &Handler{registry: r, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

// Serve handles one client connection for its whole lifetime.
func (h *Handler) Serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade", xlogger.Error(err))
		return err
	}

	sub := h.registry.Register(conn)
	h.registry.Send(sub.ID, models.ConnectionMessage{
		Type:       models.MessageConnection,
		ClientID:   sub.ID,
		ServerTime: time.Now().UTC(),
	})

	h.readLoop(conn, sub.ID)
	return nil
}

func (h *Handler) readLoop(conn *websocket.Conn, id string) {
	defer h.registry.Remove(id)

	for {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read", xlogger.String("client", id), xlogger.Error(err))
			}
			return
		}

		mt, err := models.ParseMessageType(msg.Type)
		if err != nil {
			h.registry.Send(id, models.ErrorMessage{
				Type:    models.MessageError,
				Message: err.Error(),
			})
			continue
		}

		switch mt {
		case models.MessageSubscribe:
			topics, err := h.registry.Subscribe(id, msg.Symbols)
			if err != nil {
				h.registry.Send(id, models.ErrorMessage{
					Type:    models.MessageError,
					Message: err.Error(),
				})
				continue
			}
			h.registry.Send(id, models.ConfirmedMessage{
				Type:    models.MessageConfirmed,
				Symbols: topics,
			})

		case models.MessagePing:
			h.registry.Heartbeat(id)
			h.registry.Send(id, models.PongMessage{Type: models.MessagePong})

		default:
			// Server-originated types arriving inbound are protocol misuse.
			h.registry.Send(id, models.ErrorMessage{
				Type:    models.MessageError,
				Message: "unsupported client message type: " + msg.Type,
			})
		}
	}
}
