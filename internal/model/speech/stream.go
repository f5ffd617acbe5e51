package speech

// RecognitionConfig 一次识别会话的参数。
type RecognitionConfig struct {
	SessionID  string `json:"sessionId"`
	Language   string `json:"language"`
	SampleRate int    `json:"sampleRate"`
}

// RecognitionEventKind 识别事件的变体标签。
type RecognitionEventKind int

const (
	// RecognitionReady 提供商已确认会话，可开始推送音频。
	RecognitionReady RecognitionEventKind = iota
	// RecognitionPartial 中间假设，后续可能被修正。
	RecognitionPartial
	// RecognitionFinal 一句话的最终识别结果。
	RecognitionFinal
	// RecognitionSpeechStarted 检测到用户开口。
	RecognitionSpeechStarted
	// RecognitionError 识别流出错，流随后关闭。
	RecognitionError
)

func (k RecognitionEventKind) String() string {
	switch k {
	case RecognitionReady:
		return "ready"
	case RecognitionPartial:
		return "partial"
	case RecognitionFinal:
		return "final"
	case RecognitionSpeechStarted:
		return "speech_started"
	case RecognitionError:
		return "error"
	default:
		return "unknown"
	}
}

// RecognitionEvent 把提供商的松散JSON在边界处收拢成内部事件。
type RecognitionEvent struct {
	Kind       RecognitionEventKind
	Text       string
	Confidence float64
	Err        error
}

// SynthesisRequest 单句合成请求。
type SynthesisRequest struct {
	SessionID  string  `json:"sessionId"`
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Speed      float32 `json:"speed"`
	Volume     float32 `json:"volume"`
	Language   string  `json:"language"`
	SampleRate int     `json:"sampleRate"`
}
