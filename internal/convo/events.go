package convo

// 发往客户端的控制事件类型。二进制音频帧走单独的通道，见 handler/live。
const (
	EventSessionStarted = "SESSION_STARTED"
	EventSTTReady       = "STT_READY"
	EventSTTPartial     = "STT_PARTIAL"
	EventSTTFinal       = "STT_FINAL"
	EventTurnStart      = "TURN_START"
	EventTurnEnd        = "TURN_END"
	EventStopAudio      = "STOP_AUDIO"
	EventNudge          = "MUM_NUDGE"
	EventSoftEnd        = "MUM_SOFT_END"
	EventError          = "ERROR"
)

// TurnPayload TURN_START / TURN_END 的负载。
type TurnPayload struct {
	Epoch uint32 `json:"epoch"`
}

// StopAudioPayload 通知客户端立即丢弃某一代未播放的音频。
type StopAudioPayload struct {
	Epoch  uint32 `json:"epoch"`
	Reason string `json:"reason"`
}

// PartialPayload 识别中间结果。
type PartialPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// FinalPayload 识别最终结果。
type FinalPayload struct {
	Text string `json:"text"`
}

// PromptPayload 空闲提醒与软收尾的话术。
type PromptPayload struct {
	Text string `json:"text"`
}

// ErrorPayload 面向客户端的错误消息，不携带内部细节。
type ErrorPayload struct {
	Message string `json:"message"`
}
