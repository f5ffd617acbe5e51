// Package resilience 为外部协作方调用提供超时与熔断保护。
package resilience

import (
	"errors"
	"log"
	"sync/atomic"
	"time"
)

// State 熔断器状态
type State uint32

const (
	Closed   State = iota // 正常放行
	Open                  // 快速失败
	HalfOpen              // 半开探测
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen 表示熔断器处于打开状态，调用被拒绝。
var ErrOpen = errors.New("circuit breaker open")

// BreakerConfig 熔断器参数
type BreakerConfig struct {
	Threshold         int           // 连续失败多少次后打开
	ResetTimeout      time.Duration // 打开后多久进入半开
	HalfOpenSuccesses int           // 半开状态下需要多少次成功才关闭
}

// DefaultBreakerConfig 返回默认熔断参数。
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:         5,
		ResetTimeout:      30 * time.Second,
		HalfOpenSuccesses: 2,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	return c
}

// Breaker 基于原子状态实现的熔断器。一个协作方一个实例。
type Breaker struct {
	name        string
	cfg         BreakerConfig
	state       atomic.Uint32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64 // unix nano
}

// NewBreaker 创建熔断器。
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	return b
}

// Allow 判断调用是否放行，拒绝时返回 ErrOpen。
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case Open:
		if b.shouldProbe() {
			b.transition(HalfOpen)
			return nil
		}
		return ErrOpen
	default:
		return nil
	}
}

// Success 记录一次成功调用。
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure 记录一次失败调用。
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State 返回当前状态。
func (b *Breaker) State() State {
	return State(b.state.Load())
}

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}

	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
	case Open, HalfOpen:
		b.successes.Store(0)
	}

	log.Printf("[breaker] %s: %s -> %s", b.name, from, to)
}

func (b *Breaker) shouldProbe() bool {
	last := b.lastFailure.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) > b.cfg.ResetTimeout
}
