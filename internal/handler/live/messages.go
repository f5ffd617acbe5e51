package live

import "encoding/json"

// 客户端控制消息类型。
const (
	msgStartSession = "START_SESSION"
	msgEndSession   = "END_SESSION"
	msgSendText     = "SEND_TEXT"
	msgClientEvent  = "CLIENT_EVENT"
)

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// StartSessionMessage 开启会话的参数。
type StartSessionMessage struct {
	AvatarID      string `json:"avatarId"`
	UserID        string `json:"userId"`
	MemoryEnabled bool   `json:"memoryEnabled"`
	SampleRate    int    `json:"sampleRate"`
	LanguageCode  string `json:"languageCode"`
	AudioOnly     bool   `json:"audioOnly"`
}

// TextMessage 绕过识别、直接注入一轮对话的文本。
type TextMessage struct {
	Text string `json:"text"`
}

// ClientEventMessage 客户端上报的轻量事件，目前仅用于保活。
type ClientEventMessage struct {
	Name string `json:"name"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
