package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhoulihan/workdesk/backend/internal/auth"
	"github.com/zhoulihan/workdesk/backend/internal/handler/dialog"
	"github.com/zhoulihan/workdesk/backend/internal/handler/live"
	workorderhandler "github.com/zhoulihan/workdesk/backend/internal/handler/workorder"
	middlewarePkg "github.com/zhoulihan/workdesk/backend/internal/middleware"
	"github.com/zhoulihan/workdesk/backend/internal/service/conversation"
	workorderservice "github.com/zhoulihan/workdesk/backend/internal/service/workorder"
	"github.com/zhoulihan/workdesk/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(svc *workorderservice.Service, ctrl *conversation.Controller, authSvc *auth.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	workorderHandler := workorderhandler.New(svc, ctrl)
	dialogHandler := dialog.New(ctrl)
	liveHandler := live.New(svc)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Authenticate(authSvc))

		workorderHandler.RegisterRoutes(api)
		dialogHandler.RegisterRoutes(api)
		liveHandler.RegisterRoutes(api)
	})

	return r
}
