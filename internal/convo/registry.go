package convo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/novavoice/companion/backend/internal/model/avatar"
)

// Registry 管理进程内全部活跃会话。
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Create 新建并启动一条会话。ctx 是会话的父上下文，通常取自
// 承载它的连接，连接断开时会话随之收尾。
func (r *Registry) Create(ctx context.Context, cfg SessionConfig, av avatar.Avatar, emitter Emitter) (*Session, error) {
	session := newSession(uuid.NewString(), cfg, av, r.deps, emitter)
	if err := session.start(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
	return session, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return session, nil
}

// Remove 关闭并移除一条会话，不存在时静默返回。
func (r *Registry) Remove(id, reason string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		session.Close(reason)
	}
}

// Count 活跃会话数，仅用于观测。
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close 关闭全部会话，服务停机时调用。
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close("server shutdown")
	}
}
