package convo

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/novavoice/companion/backend/internal/config"
	"github.com/novavoice/companion/backend/internal/model/avatar"
	convomodel "github.com/novavoice/companion/backend/internal/model/convo"
	speechmodel "github.com/novavoice/companion/backend/internal/model/speech"
)

// GenerationInput 一次回复生成所需的全部上下文。
type GenerationInput struct {
	SystemPrompt string
	Knowledge    []string
	Memories     []string
	History      []convomodel.Message
	UserText     string
}

// Generator 流式生成助手回复。
type Generator interface {
	Stream(ctx context.Context, input GenerationInput) (*schema.StreamReader[*schema.Message], error)
}

// Synthesizer 把一句文本合成为 PCM 音频，通过 emit 逐块回调。
// ctx 取消后实现必须尽快停止并返回。
type Synthesizer interface {
	Synthesize(ctx context.Context, req speechmodel.SynthesisRequest, emit func(chunk []byte) error) error
}

// RecognitionStream 一条长连接识别会话。Events 返回的通道在
// Close 或底层连接结束后关闭。
type RecognitionStream interface {
	SendAudio(data []byte) error
	Events() <-chan speechmodel.RecognitionEvent
	Close() error
}

// Recognizer 为会话建立流式语音识别。
type Recognizer interface {
	Start(ctx context.Context, cfg speechmodel.RecognitionConfig) (RecognitionStream, error)
}

// RecognizerFunc 函数式适配器。
type RecognizerFunc func(ctx context.Context, cfg speechmodel.RecognitionConfig) (RecognitionStream, error)

func (f RecognizerFunc) Start(ctx context.Context, cfg speechmodel.RecognitionConfig) (RecognitionStream, error) {
	return f(ctx, cfg)
}

// ContextProvider 按形象检索与本轮输入相关的知识片段。
type ContextProvider interface {
	Retrieve(ctx context.Context, query, avatarID string) ([]string, error)
}

// MemoryService 用户级长期记忆。
type MemoryService interface {
	Search(ctx context.Context, query, userID string) ([]string, error)
	Add(ctx context.Context, text, userID string) error
}

// HistoryStore 持久化对话记录，按用户与形象维度查询。
type HistoryStore interface {
	Save(ctx context.Context, msg convomodel.Message) error
	Recent(ctx context.Context, userID, avatarID string, limit int) ([]convomodel.Message, error)
}

// Emitter 会话到客户端的下行通道，由传输层实现。两个方法都必须
// 可被多个 goroutine 并发调用。
type Emitter interface {
	SendEvent(event string, payload any) error
	SendAudio(epoch uint32, pcm []byte) error
}

// Deps 会话的全部协作方。Contexts、Memories 允许为 nil，
// Recognizer 为 nil 时会话只接受文本输入。
type Deps struct {
	Generator   Generator
	Synthesizer Synthesizer
	Recognizer  Recognizer
	Contexts    ContextProvider
	Memories    MemoryService
	History     HistoryStore
	Prompt      func(av avatar.Avatar) string
	Config      config.ConversationConfig
}
