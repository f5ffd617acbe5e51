package history

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/novavoice/companion/backend/internal/service/history"
	"github.com/novavoice/companion/backend/pkg/utils"
)

// 不带 limit 参数时返回的转写条数上限。
const defaultTranscriptLimit = 100

// Handler 对话转写的HTTP处理器
type Handler struct {
	histories *history.Service
}

// New 创建history处理器
func New(histories *history.Service) *Handler {
	return &Handler{
		histories: histories,
	}
}

// RegisterRoutes 注册history相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/history/{userID}/{avatarID}", h.handleGetTranscript)
}

// handleGetTranscript 查询某用户与某形象的最近对话记录
func (h *Handler) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	avatarID := chi.URLParam(r, "avatarID")

	limit := defaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	messages, err := h.histories.Recent(r.Context(), userID, avatarID, limit)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"userId":   userID,
		"avatarId": avatarID,
		"messages": messages,
	})
}
