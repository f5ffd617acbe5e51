package speech

import (
	"sync"

	"github.com/gorilla/websocket"
)

// ConnectionManager 追踪到提供商的活跃 WebSocket 连接，
// 服务停机时统一关闭。key 为 sessionID 加用途后缀。
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*websocket.Conn
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
	}
}

// Track 登记连接，同 key 的旧连接先关掉。
func (cm *ConnectionManager) Track(key string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if old, exists := cm.connections[key]; exists {
		old.Close()
	}
	cm.connections[key] = conn
}

// Release 注销并关闭连接。
func (cm *ConnectionManager) Release(key string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conn, exists := cm.connections[key]; exists {
		conn.Close()
		delete(cm.connections, key)
	}
}

// Count 活跃连接数。
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll 关闭所有连接。
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for key, conn := range cm.connections {
		conn.Close()
		delete(cm.connections, key)
	}
}
