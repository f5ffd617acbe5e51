package convo

import "time"

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 持久化的一条对话记录，user 与 assistant 各占一条。
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	AvatarID  string    `json:"avatarId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
