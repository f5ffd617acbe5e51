package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/novavoice/companion/backend/internal/convo"
	avatarHandler "github.com/novavoice/companion/backend/internal/handler/avatar"
	historyHandler "github.com/novavoice/companion/backend/internal/handler/history"
	"github.com/novavoice/companion/backend/internal/handler/live"
	"github.com/novavoice/companion/backend/internal/handler/stream"
	middlewarePkg "github.com/novavoice/companion/backend/internal/middleware"
	avatarModel "github.com/novavoice/companion/backend/internal/model/avatar"
	historyService "github.com/novavoice/companion/backend/internal/service/history"
	"github.com/novavoice/companion/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(avatars avatarModel.Store, histories *historyService.Service, registry *convo.Registry, streamHandler *stream.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		avatarHandler.New(avatars).RegisterRoutes(api)
		historyHandler.New(histories).RegisterRoutes(api)
		live.New(registry, avatars).RegisterRoutes(api)

		// 不走语音的文本聊天回退链路
		api.Get("/stream/{userID}/{avatarID}", func(w http.ResponseWriter, r *http.Request) {
			userID := chi.URLParam(r, "userID")
			avatarID := chi.URLParam(r, "avatarID")
			userMessage := r.URL.Query().Get("message")

			if streamHandler == nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
				return
			}
			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, userID, avatarID, userMessage); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})

		api.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"sessions": registry.Count(),
			})
		})
	})

	return r
}
