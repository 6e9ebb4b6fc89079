package dialog

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhoulihan/workdesk/backend/internal/middleware"
	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/service/conversation"
	"github.com/zhoulihan/workdesk/backend/internal/service/responder"
	"github.com/zhoulihan/workdesk/backend/pkg/utils"
)

// Handler accepts dialog messages and relays automated replies over SSE.
type Handler struct {
	ctrl *conversation.Controller
}

// New creates the dialog handler.
func New(ctrl *conversation.Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

// RegisterRoutes mounts the dialog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/workorder/{orderID}/dialog", h.handleSubmit)
}

type submitRequest struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	FileURL string `json:"fileUrl,omitempty"`
}

// streamFrame is the wire shape of one SSE data frame.
type streamFrame struct {
	Event   string `json:"event"`
	Index   int    `json:"index,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var payload submitRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	content, err := contentFrom(payload)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	orderID := chi.URLParam(r, "orderID")
	receipt, err := h.ctrl.SubmitMessage(r.Context(), orderID, claims, content)
	if err != nil {
		respondSubmitError(w, err)
		return
	}

	if !receipt.Streaming() {
		utils.RespondJSON(w, http.StatusAccepted, map[string]any{
			"index":   receipt.Index,
			"message": receipt.Message,
		})
		return
	}

	h.relay(w, r, orderID, receipt)
}

// relay forwards the reply stream to the submitting client. Text that has
// already streamed is committed to the dialog log regardless of whether the
// client stays connected.
func (h *Handler) relay(w http.ResponseWriter, r *http.Request, orderID string, receipt *conversation.Receipt) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, streamFrame{Event: "start", Index: receipt.Index})

	clientGone := r.Context().Done()
	for {
		select {
		case <-clientGone:
			log.Printf("[dialog] client disconnected mid-stream order=%s", orderID)
			return
		case ev, open := <-receipt.Events():
			if !open {
				utils.SendSSEChunk(w, flusher, streamFrame{Event: "end"})
				return
			}
			switch ev.Kind {
			case responder.EventDelta:
				utils.SendSSEChunk(w, flusher, streamFrame{Event: "delta", Delta: ev.Delta})
			case responder.EventRateLimited:
				utils.SendSSEChunk(w, flusher, streamFrame{Event: "limit", Message: "automated responder is busy, transferring to manual handling"})
			case responder.EventError:
				utils.SendSSEChunk(w, flusher, streamFrame{Event: "error", Message: "automated reply failed"})
			case responder.EventDone:
				utils.SendSSEChunk(w, flusher, streamFrame{Event: "end"})
				return
			}
		}
	}
}

func contentFrom(payload submitRequest) (workorder.Content, error) {
	switch workorder.ContentKind(payload.Type) {
	case workorder.ContentText:
		if payload.Text == "" {
			return workorder.Content{}, errors.New("text is required")
		}
		return workorder.TextContent(payload.Text), nil
	case workorder.ContentFile:
		if payload.FileURL == "" {
			return workorder.Content{}, errors.New("fileUrl is required")
		}
		return workorder.FileContent(payload.FileURL), nil
	default:
		return workorder.Content{}, errors.New("unknown content type")
	}
}

func respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workorder.ErrOrderNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workorder.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workorder.ErrTicketClosed):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
