// Package history 维护用户与形象维度的对话记录，内存实现，
// 支撑转写查询与回合上下文。
package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	convomodel "github.com/novavoice/companion/backend/internal/model/convo"
)

var (
	ErrUserRequired   = errors.New("user id is required")
	ErrAvatarRequired = errors.New("avatar id is required")
)

// 单个 (用户, 形象) 维度最多保留的消息条数，超出后丢最旧的。
const maxRetained = 500

// Service 进程内对话记录存储。
type Service struct {
	mu      sync.RWMutex
	records map[string][]convomodel.Message
}

func NewService() *Service {
	return &Service{records: make(map[string][]convomodel.Message)}
}

// Save 追加一条消息，自动补全 ID 与时间戳。
func (s *Service) Save(_ context.Context, msg convomodel.Message) error {
	if msg.UserID == "" {
		return ErrUserRequired
	}
	if msg.AvatarID == "" {
		return ErrAvatarRequired
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	key := recordKey(msg.UserID, msg.AvatarID)
	s.mu.Lock()
	defer s.mu.Unlock()
	records := append(s.records[key], msg)
	if len(records) > maxRetained {
		records = records[len(records)-maxRetained:]
	}
	s.records[key] = records
	return nil
}

// Recent 返回最近的至多 limit 条消息，按时间先后排列。
func (s *Service) Recent(_ context.Context, userID, avatarID string, limit int) ([]convomodel.Message, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	if avatarID == "" {
		return nil, ErrAvatarRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.records[recordKey(userID, avatarID)]
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	copied := make([]convomodel.Message, len(records))
	copy(copied, records)
	return copied, nil
}

func recordKey(userID, avatarID string) string {
	return strings.Join([]string{userID, avatarID}, "|")
}
