package workorder

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhoulihan/workdesk/backend/internal/middleware"
	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/service/conversation"
	workorderservice "github.com/zhoulihan/workdesk/backend/internal/service/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/store"
	"github.com/zhoulihan/workdesk/backend/pkg/utils"
)

// Handler exposes the work order CRUD and lifecycle surface.
type Handler struct {
	svc  *workorderservice.Service
	ctrl *conversation.Controller
}

// New creates the work order handler.
func New(svc *workorderservice.Service, ctrl *conversation.Controller) *Handler {
	return &Handler{svc: svc, ctrl: ctrl}
}

// RegisterRoutes mounts the work order routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/catalog", h.handleCatalog)
	r.Post("/workorder", h.handleCreate)
	r.Post("/workorder/list", h.handleList)
	r.Get("/workorder/{orderID}", h.handleGet)
	r.Get("/workorder/{orderID}/dialog", h.handleGetDialog)
	r.Post("/workorder/{orderID}/status", h.handleTransition)
	r.Delete("/workorder/{orderID}", h.handleDelete)
	r.Post("/workorder/{orderID}/recall", h.handleRecall)
	r.Post("/workorder/{orderID}/manual", h.handleRequestManual)
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.svc.Catalog())
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var payload struct {
		Category    string `json:"category"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.svc.Create(r.Context(), claims, payload.Category, payload.Description)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"orderId": t.OrderID})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var payload struct {
		Page      int    `json:"page"`
		PageSize  int    `json:"pageSize"`
		Status    string `json:"status"`
		Category  string `json:"category"`
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	f := store.Filter{
		Page:     payload.Page,
		PageSize: payload.PageSize,
		Status:   workorder.Status(payload.Status),
		Category: payload.Category,
	}
	if payload.StartTime != "" {
		from, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid startTime")
			return
		}
		f.CreatedFrom = from
	}
	if payload.EndTime != "" {
		to, err := time.Parse(time.RFC3339, payload.EndTime)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid endTime")
			return
		}
		f.CreatedTo = to
	}

	orders, total, err := h.svc.List(r.Context(), claims, f)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"totalCount": total,
		"orders":     orders,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	t, err := h.svc.Get(r.Context(), claims, chi.URLParam(r, "orderID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, t)
}

func (h *Handler) handleGetDialog(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	t, err := h.svc.Get(r.Context(), claims, chi.URLParam(r, "orderID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, t.Dialogs)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	to := workorder.Status(payload.Status)
	if !to.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "unknown status")
		return
	}

	if err := h.ctrl.Transition(r.Context(), chi.URLParam(r, "orderID"), to, claims); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": payload.Status})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	if err := h.ctrl.Transition(r.Context(), chi.URLParam(r, "orderID"), workorder.StatusDeleted, claims); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": string(workorder.StatusDeleted)})
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var payload struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Index == nil {
		utils.RespondError(w, http.StatusBadRequest, "index is required")
		return
	}

	if err := h.ctrl.Recall(r.Context(), chi.URLParam(r, "orderID"), *payload.Index, claims); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "recalled"})
}

func (h *Handler) handleRequestManual(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	switched, err := h.ctrl.RequestManual(r.Context(), chi.URLParam(r, "orderID"), claims)
	if err != nil {
		if !switched {
			respondServiceError(w, err)
			return
		}
		// The hand-off committed; only the operator alert failed. Reporting an
		// error here would invite the client to re-trigger it.
		log.Printf("[workorder] manual hand-off notification failed: %v", err)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"switched": switched})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workorder.ErrOrderNotFound), errors.Is(err, workorder.ErrMessageNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workorder.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workorder.ErrTicketClosed):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workorder.ErrBadTransition):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workorderservice.ErrUnknownCategory), errors.Is(err, workorderservice.ErrEmptyDescription):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
