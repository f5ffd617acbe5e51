package convo

import (
	"strings"
	"time"
)

// 中间结果触发打断的门槛：太短或置信度太低的片段多半是环境噪声。
const (
	bargeInMinRunes      = 2
	bargeInMinConfidence = 0.6
)

// bargeInDetector 汇聚打断信号并做防抖。signal 后先等待一个防抖
// 窗口，窗口内用户持续说话才真正执行打断；识别最终结果不走这条
// 路径，由会话直接处理。所有方法都要求持有会话锁。
type bargeInDetector struct {
	s       *Session
	timer   *time.Timer
	pending bool
	seq     int
}

func newBargeInDetector(s *Session) *bargeInDetector {
	return &bargeInDetector{s: s}
}

func (d *bargeInDetector) observePartial(text string, confidence float64) {
	if countRunes(strings.TrimSpace(text)) >= bargeInMinRunes && confidence >= bargeInMinConfidence {
		d.signal()
	}
}

func (d *bargeInDetector) observeSpeechStarted() {
	d.signal()
}

func (d *bargeInDetector) signal() {
	if d.pending {
		return
	}
	d.pending = true
	d.seq++
	seq := d.seq
	epoch := d.s.epoch.Load()
	d.timer = time.AfterFunc(d.s.deps.Config.BargeInDebounce, func() {
		d.fire(seq, epoch)
	})
}

func (d *bargeInDetector) fire(seq int, epoch uint32) {
	s := d.s
	s.mu.Lock()
	defer s.mu.Unlock()
	// seq 校验挡住已被 reset 作废的旧计时器
	if s.closed.Load() || seq != d.seq || !d.pending {
		return
	}
	d.pending = false
	// 调度本次防抖的代际已被新回合取代时计时器作废
	if epoch != s.epoch.Load() {
		return
	}
	s.bargeInLocked("barge_in")
}

func (d *bargeInDetector) reset() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
	d.seq++
}

func countRunes(text string) int {
	n := 0
	for range text {
		n++
	}
	return n
}
