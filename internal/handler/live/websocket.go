package live

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhoulihan/workdesk/backend/internal/middleware"
	"github.com/zhoulihan/workdesk/backend/internal/model/user"
	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
	workorderservice "github.com/zhoulihan/workdesk/backend/internal/service/workorder"
	"github.com/zhoulihan/workdesk/backend/pkg/utils"
)

const (
	pollInterval = 1 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler pushes live dialog updates for an open work order over WebSocket.
type Handler struct {
	svc      *workorderservice.Service
	upgrader websocket.Upgrader
}

// New creates the live update handler.
func New(svc *workorderservice.Service) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the live update route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/workorder/{orderID}/live", h.handleLive)
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	OrderID   string      `json:"orderId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type snapshot struct {
	Status         workorder.Status    `json:"status"`
	ManualHandling bool                `json:"manualHandling"`
	Dialogs        []workorder.Message `json:"dialogs"`
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}
	orderID := chi.URLParam(r, "orderID")

	// Check access before upgrading so a plain HTTP status can be returned.
	if _, err := h.svc.Get(r.Context(), claims, orderID); err != nil {
		utils.RespondError(w, http.StatusForbidden, "access denied")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[live] upgrade failed order=%s: %v", orderID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read pump: the client sends nothing meaningful, but reads are needed
	// to notice close frames and control messages.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.pushLoop(ctx, conn, claims, orderID)
}

// pushLoop polls the order and pushes a snapshot whenever the dialog log or
// status changed since the last push.
func (h *Handler) pushLoop(ctx context.Context, conn *websocket.Conn, claims user.Claims, orderID string) {
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	var lastCount = -1
	var lastStatus workorder.Status
	var lastText string

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			t, err := h.svc.Get(ctx, claims, orderID)
			if err != nil {
				log.Printf("[live] fetch failed order=%s: %v", orderID, err)
				return
			}
			tailText := ""
			if n := len(t.Dialogs); n > 0 {
				tailText = t.Dialogs[n-1].Content.Text
			}
			if len(t.Dialogs) == lastCount && t.Status == lastStatus && tailText == lastText {
				continue
			}
			lastCount = len(t.Dialogs)
			lastStatus = t.Status
			lastText = tailText

			msg := outgoingMessage{
				Type:    "snapshot",
				OrderID: orderID,
				Data: snapshot{
					Status:         t.Status,
					ManualHandling: t.ManualHandling.IsManuallyHandled,
					Dialogs:        t.Dialogs,
				},
				Timestamp: time.Now().UnixMilli(),
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("[live] set write deadline failed order=%s: %v", orderID, err)
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[live] push failed order=%s: %v", orderID, err)
				return
			}
		}
	}
}
