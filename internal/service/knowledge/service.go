// Package knowledge 形象知识库检索：对话的每一轮用用户话语召回
// 少量相关片段拼进生成上下文。
package knowledge

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"

	"github.com/novavoice/companion/backend/internal/resilience"
)

// 单个片段拼进提示词前的长度上限（按 rune），过长的片段截断。
const maxSnippetRunes = 400

// Service 把底层检索器适配成回合编排需要的形态：按形象过滤、
// 截断超长片段，远端故障走熔断降级。
type Service struct {
	retriever retriever.Retriever
	topK      int
	timeout   time.Duration
	breaker   *resilience.Breaker
}

func NewService(r retriever.Retriever, topK int, timeout time.Duration) *Service {
	if topK <= 0 {
		topK = 4
	}
	return &Service{
		retriever: r,
		topK:      topK,
		timeout:   timeout,
		breaker:   resilience.NewBreaker("knowledge", resilience.BreakerConfig{}),
	}
}

// Retrieve 召回与 query 相关且属于指定形象的知识片段。
// 未标注形象的片段视为公共知识，所有形象可见。
func (s *Service) Retrieve(ctx context.Context, query, avatarID string) ([]string, error) {
	var snippets []string
	err := resilience.Call(ctx, s.breaker, s.timeout, func(ctx context.Context) error {
		docs, err := s.retriever.Retrieve(ctx, query, retriever.WithTopK(s.topK))
		if err != nil {
			return err
		}
		snippets = make([]string, 0, len(docs))
		for _, doc := range docs {
			if doc == nil {
				continue
			}
			if owner, ok := doc.MetaData["avatarId"].(string); ok && owner != "" && owner != avatarID {
				continue
			}
			content := strings.TrimSpace(doc.Content)
			if content == "" {
				continue
			}
			snippets = append(snippets, truncateRunes(content, maxSnippetRunes))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snippets, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
