package convo

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/novavoice/companion/backend/internal/model/avatar"
	speechmodel "github.com/novavoice/companion/backend/internal/model/speech"
	"github.com/novavoice/companion/backend/internal/resilience"
)

// SessionConfig 客户端在 START_SESSION 里声明的会话参数。
type SessionConfig struct {
	UserID        string
	AvatarID      string
	MemoryEnabled bool
	SampleRate    int
	Language      string
	// AudioOnly 为 true 时音频按小块尽快下发；为 false 时整句
	// 攒齐后一次下发，供形象渲染端做口型对齐。
	AudioOnly bool
}

// Session 一条实时对话会话。对外方法可并发调用，内部通过
// 会话锁串行化状态变更；epoch 单调递增，任何代际落后的异步
// 结果都会在落地前被丢弃。
type Session struct {
	ID     string
	Config SessionConfig
	Avatar avatar.Avatar

	deps    Deps
	emitter Emitter

	ctx    context.Context
	cancel context.CancelFunc

	epoch  atomic.Uint32
	closed atomic.Bool

	mu           sync.Mutex
	state        State
	turnCancel   context.CancelFunc
	accumulated  []string
	systemPrompt string
	turnStamps   []time.Time

	queue *synthQueue
	idle  *idleScheduler
	barge *bargeInDetector
	recog RecognitionStream
}

func newSession(id string, cfg SessionConfig, av avatar.Avatar, deps Deps, emitter Emitter) *Session {
	s := &Session{
		ID:      id,
		Config:  cfg,
		Avatar:  av,
		deps:    deps,
		emitter: emitter,
		state:   StateIdle,
	}
	s.queue = newSynthQueue(s)
	s.idle = newIdleScheduler(s)
	s.barge = newBargeInDetector(s)
	return s
}

func (s *Session) start(parent context.Context) error {
	s.ctx, s.cancel = context.WithCancel(parent)
	go s.queue.run(s.ctx)
	if s.deps.Recognizer != nil {
		stream, err := s.deps.Recognizer.Start(s.ctx, speechmodel.RecognitionConfig{
			SessionID:  s.ID,
			Language:   s.Config.Language,
			SampleRate: s.Config.SampleRate,
		})
		if err != nil {
			s.cancel()
			return fmt.Errorf("start recognition failed: %w", err)
		}
		s.recog = stream
		go s.consumeRecognition(stream)
	}
	s.mu.Lock()
	s.setStateLocked(StateListening)
	s.idle.arm()
	s.mu.Unlock()
	log.Printf("[convo] session started id=%s avatar=%s user=%s", s.ID, s.Config.AvatarID, s.Config.UserID)
	return nil
}

// CurrentEpoch 当前有效代际。
func (s *Session) CurrentEpoch() uint32 {
	return s.epoch.Load()
}

// State 当前状态快照，仅用于观测。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ForwardAudio 把客户端上行的原始 PCM 转发给识别流。
func (s *Session) ForwardAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	if s.recog == nil {
		return fmt.Errorf("speech recognition not enabled for session")
	}
	return s.recog.SendAudio(data)
}

// HandleUserText 处理客户端直接发送的文本输入，语义等同于一条
// 识别最终结果，但不回发 STT_FINAL。
func (s *Session) HandleUserText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchUtteranceLocked(text)
}

func (s *Session) handleFinal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchUtteranceLocked(text)
}

// dispatchUtteranceLocked 一条完整用户话语的统一入口。回合忙碌时
// 先累积再打断，把累积文本合并成一轮重新生成；失败或被打断的
// 合并轮次不清空累积，后续话语会继续并入。
func (s *Session) dispatchUtteranceLocked(text string) {
	text = strings.TrimSpace(text)
	if text == "" || s.closed.Load() {
		return
	}
	s.accumulated = append(s.accumulated, text)
	combined := strings.Join(s.accumulated, " ")

	if !s.allowTurnLocked() {
		s.emitEvent(EventError, ErrorPayload{Message: "说得太快了，稍等片刻再试"})
		return
	}

	switch s.state {
	case StateThinking, StateSpeaking:
		// 最终结果不经防抖，立即打断并带着合并文本开新一轮
		s.barge.reset()
		old := s.epoch.Load()
		next := s.epoch.Add(1)
		s.cancelWorkLocked()
		s.emitEvent(EventStopAudio, StopAudioPayload{Epoch: old, Reason: "barge_in"})
		s.beginTurnLocked(next, combined)
	case StateIdle, StateListening:
		next := s.epoch.Add(1)
		s.beginTurnLocked(next, combined)
	}
}

func (s *Session) handlePartial(text string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	switch s.state {
	case StateListening:
		s.idle.arm()
	case StateThinking, StateSpeaking:
		s.barge.observePartial(text, confidence)
	}
}

func (s *Session) handleSpeechStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	switch s.state {
	case StateListening:
		s.idle.arm()
	case StateThinking, StateSpeaking:
		s.barge.observeSpeechStarted()
	}
}

// bargeInLocked 防抖计时器或 speechStarted 确认的打断：作废当前
// 代际并回到聆听态，不开新一轮。
func (s *Session) bargeInLocked(reason string) {
	if s.state != StateThinking && s.state != StateSpeaking {
		return
	}
	old := s.epoch.Load()
	s.epoch.Add(1)
	s.cancelWorkLocked()
	s.emitEvent(EventStopAudio, StopAudioPayload{Epoch: old, Reason: reason})
	s.setStateLocked(StateListening)
	s.idle.arm()
}

func (s *Session) beginTurnLocked(epoch uint32, userText string) {
	s.setStateLocked(StateThinking)
	s.idle.stop()
	ctx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	s.emitEvent(EventTurnStart, TurnPayload{Epoch: epoch})
	go s.runTurn(ctx, epoch, userText)
}

func (s *Session) cancelWorkLocked() {
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.queue.cancelActive()
}

// allowTurnLocked 滑动一分钟窗口内的回合数限制。
func (s *Session) allowTurnLocked() bool {
	limit := s.deps.Config.MaxTurnsPerMin
	if limit <= 0 {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-time.Minute)
	kept := s.turnStamps[:0]
	for _, t := range s.turnStamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.turnStamps = kept
	if len(s.turnStamps) >= limit {
		return false
	}
	s.turnStamps = append(s.turnStamps, now)
	return true
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
}

func (s *Session) isCurrent(epoch uint32) bool {
	return !s.closed.Load() && epoch == s.epoch.Load()
}

func (s *Session) sendAudio(epoch uint32, pcm []byte) error {
	// 落地前最后一次代际校验，打断后的残余音频在这里被拦下
	if !s.isCurrent(epoch) {
		return errStaleEpoch
	}
	return s.emitter.SendAudio(epoch, pcm)
}

func (s *Session) emitEvent(event string, payload any) {
	if err := s.emitter.SendEvent(event, payload); err != nil {
		log.Printf("[convo] send %s failed session=%s: %v", event, s.ID, err)
	}
}

// Close 幂等关闭：取消在途工作、停掉计时器并关闭识别流。
func (s *Session) Close(reason string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.idle.stop()
	s.barge.reset()
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.queue.cancelActive()
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.recog != nil {
		if err := s.recog.Close(); err != nil && !resilience.IsCancellation(err) {
			log.Printf("[convo] close recognition stream failed session=%s: %v", s.ID, err)
		}
	}
	log.Printf("[convo] session closed id=%s reason=%s", s.ID, reason)
}
