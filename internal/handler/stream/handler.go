package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/cloudwego/eino/schema"

	"github.com/novavoice/companion/backend/internal/convo"
	"github.com/novavoice/companion/backend/internal/model/avatar"
	convomodel "github.com/novavoice/companion/backend/internal/model/convo"
	"github.com/novavoice/companion/backend/internal/service/history"
	"github.com/novavoice/companion/backend/pkg/utils"
)

// 文本聊天回退链路携带的历史条数。
const historyLimit = 20

// AIService 生成回复所需的能力，由 service/ai 提供。
type AIService interface {
	StreamingEnabled() bool
	Stream(ctx context.Context, input convo.GenerationInput) (*schema.StreamReader[*schema.Message], error)
	Generate(ctx context.Context, input convo.GenerationInput) (*schema.Message, error)
}

// Handler 通过Server-Sent Events下发文本聊天回复，供不开语音的
// 客户端使用
type Handler struct {
	aiService AIService
	histories *history.Service
	avatars   avatar.Store
	prompt    func(av avatar.Avatar) string
}

// New 创建stream处理器
func New(aiSvc AIService, histories *history.Service, avatars avatar.Store, prompt func(av avatar.Avatar) string) *Handler {
	return &Handler{
		aiService: aiSvc,
		histories: histories,
		avatars:   avatars,
		prompt:    prompt,
	}
}

// StreamResponse 单个SSE数据块
type StreamResponse struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HandleStreamRequest 处理一次文本聊天请求，流式下发生成结果
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, userID, avatarID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	av, found := h.avatars.FindByID(avatarID)
	if !found {
		h.sendSSEError(w, flusher, "avatar not found: "+avatarID)
		return fmt.Errorf("avatar %s not found", avatarID)
	}

	messages, err := h.histories.Recent(ctx, userID, avatarID, historyLimit)
	if err != nil {
		h.sendSSEError(w, flusher, fmt.Sprintf("failed to load transcript: %v", err))
		return err
	}

	userMsg := convomodel.Message{
		UserID:   userID,
		AvatarID: avatarID,
		Role:     convomodel.RoleUser,
		Content:  userMessage,
	}
	if err := h.histories.Save(ctx, userMsg); err != nil {
		log.Printf("[stream] failed to save user message: %v", err)
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:   "start",
		Content: fmt.Sprintf("%s的回复:", av.Name),
	})

	input := convo.GenerationInput{
		SystemPrompt: h.prompt(av),
		History:      messages,
		UserText:     userMessage,
	}
	response, err := h.dispatchAIResponse(ctx, w, flusher, input)
	if err != nil {
		h.sendSSEError(w, flusher, fmt.Sprintf("AI generation failed: %v", err))
		return err
	}

	assistantMsg := convomodel.Message{
		UserID:   userID,
		AvatarID: avatarID,
		Role:     convomodel.RoleAssistant,
		Content:  response.Content,
	}
	if err := h.histories.Save(ctx, assistantMsg); err != nil {
		log.Printf("[stream] failed to save assistant message: %v", err)
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:    "end",
		Finished: true,
	})

	log.Printf("[stream] completed response user=%s avatar=%s", userID, avatarID)
	return nil
}

func (h *Handler) dispatchAIResponse(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, input convo.GenerationInput) (*schema.Message, error) {
	if h.aiService.StreamingEnabled() {
		return h.streamAIResponse(ctx, w, flusher, input)
	}

	response, err := h.aiService.Generate(ctx, input)
	if err != nil {
		return nil, err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:   "message",
		Content: response.Content,
	})
	return response, nil
}

func (h *Handler) streamAIResponse(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, input convo.GenerationInput) (*schema.Message, error) {
	stream, err := h.aiService.Stream(ctx, input)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.sendSSE(w, flusher, StreamResponse{
				Event:   "delta",
				Content: chunk.Content,
			})
		}
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:   "message",
		Content: response.Content,
	})
	return response, nil
}

// sendSSE 发送一个SSE数据块
func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

// sendSSEError 通过SSE发送错误
func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, errorMsg string) {
	h.sendSSE(w, flusher, StreamResponse{
		Event: "error",
		Error: errorMsg,
	})
}
