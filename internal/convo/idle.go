package convo

import (
	"math/rand/v2"
	"time"
)

// idleScheduler 聆听态的分层空闲提醒：两次轻提醒后给一句软收尾，
// 会话保持打开，任何用户活动都会把计时重新归零。arm/stop 都要求
// 持有会话锁。
type idleScheduler struct {
	s      *Session
	seq    int
	timers []*time.Timer
}

const (
	idleTierFirst = iota
	idleTierSecond
	idleTierSoftEnd
)

func newIdleScheduler(s *Session) *idleScheduler {
	return &idleScheduler{s: s}
}

func (t *idleScheduler) arm() {
	t.stop()
	t.seq++
	seq := t.seq
	cfg := t.s.deps.Config
	t.timers = []*time.Timer{
		time.AfterFunc(cfg.FirstNudgeAfter, func() { t.fire(seq, idleTierFirst) }),
		time.AfterFunc(cfg.SecondNudgeAfter, func() { t.fire(seq, idleTierSecond) }),
		time.AfterFunc(cfg.SoftEndAfter, func() { t.fire(seq, idleTierSoftEnd) }),
	}
}

func (t *idleScheduler) stop() {
	for _, tm := range t.timers {
		tm.Stop()
	}
	t.timers = nil
}

func (t *idleScheduler) fire(seq, tier int) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	// 重新计时或状态离开聆听后，旧计时器触发也要当作没发生
	if s.closed.Load() || seq != t.seq || s.state != StateListening {
		return
	}
	phrases := s.deps.Config.Phrases
	switch tier {
	case idleTierFirst:
		s.emitEvent(EventNudge, PromptPayload{Text: pickPhrase(phrases.FirstNudge)})
	case idleTierSecond:
		s.emitEvent(EventNudge, PromptPayload{Text: pickPhrase(phrases.SecondNudge)})
	case idleTierSoftEnd:
		s.emitEvent(EventSoftEnd, PromptPayload{Text: pickPhrase(phrases.SoftEnd)})
	}
}

func pickPhrase(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rand.IntN(len(candidates))]
}
