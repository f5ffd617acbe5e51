// Package speech 对接语音提供商：流式识别与流式合成都走提供商的
// WebSocket 二进制协议，向上暴露与编排层对齐的接口。
package speech

import (
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/novavoice/companion/backend/internal/model/speech"
)

// Service 语音服务入口，识别与合成共用拨号器和连接管理。
type Service struct {
	config  *speechmodel.SpeechConfig
	dialer  *websocket.Dialer
	manager *ConnectionManager
}

// NewService 创建语音服务实例
func NewService(config *speechmodel.SpeechConfig) *Service {
	timeout := 30 * time.Second
	if config != nil && config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}
	return &Service{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		manager: NewConnectionManager(),
	}
}

// ActiveConnections 当前到提供商的连接数，仅用于观测。
func (s *Service) ActiveConnections() int {
	return s.manager.Count()
}

// Cleanup 关闭全部提供商连接，停机时调用。
func (s *Service) Cleanup() {
	s.manager.CloseAll()
}
