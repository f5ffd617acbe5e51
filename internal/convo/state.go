// Package convo 实现实时语音对话的回合编排：状态机、打断检测、
// 空闲提醒、合成队列与回合执行器。所有可变状态都归属单个会话，
// 会话之间完全独立。
package convo

// State 会话状态机的状态。
type State int

const (
	// StateIdle 会话刚建立，尚无任何活动。
	StateIdle State = iota
	// StateListening 等待用户说话。
	StateListening
	// StateThinking 正在生成回复，尚未发出声音。
	StateThinking
	// StateSpeaking 正在播报合成音频。
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
