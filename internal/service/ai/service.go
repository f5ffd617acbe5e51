package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/novavoice/companion/backend/internal/config"
	"github.com/novavoice/companion/backend/internal/convo"
	convomodel "github.com/novavoice/companion/backend/internal/model/convo"
)

// Service 基于 eino 编排链的回复生成服务，实现 convo.Generator。
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service instance
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示配置是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Stream 流式生成回复，chunk 顺序与最终文本一致。
func (s *Service) Stream(ctx context.Context, input convo.GenerationInput) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.chain.Stream(ctx, s.buildChainInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

// Generate 一次性生成完整回复，文本聊天的非流式路径使用。
func (s *Service) Generate(ctx context.Context, input convo.GenerationInput) (*schema.Message, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}
	log.Printf("[ai] generated response length=%d", len(response.Content))
	return response, nil
}

func (s *Service) buildChainInput(input convo.GenerationInput) map[string]any {
	return map[string]any{
		"system":  composeSystemPrompt(input),
		"history": buildHistoryMessages(input.History),
		"query":   input.UserText,
	}
}

// composeSystemPrompt 把形象人设、召回的知识与长期记忆拼成
// 最终系统提示词。
func composeSystemPrompt(input convo.GenerationInput) string {
	var builder strings.Builder
	builder.WriteString(input.SystemPrompt)
	if len(input.Knowledge) > 0 {
		builder.WriteString("\n\n以下是与本轮话题相关的背景资料，可在回答时参考，不要照本宣科：")
		for _, snippet := range input.Knowledge {
			builder.WriteString("\n- ")
			builder.WriteString(snippet)
		}
	}
	if len(input.Memories) > 0 {
		builder.WriteString("\n\n你记得关于这位用户的以下事情，自然地体现在对话里：")
		for _, memo := range input.Memories {
			builder.WriteString("\n- ")
			builder.WriteString(memo)
		}
	}
	return builder.String()
}

func buildHistoryMessages(messages []convomodel.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case convomodel.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case convomodel.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
