package convo

import (
	"log"

	speechmodel "github.com/novavoice/companion/backend/internal/model/speech"
	"github.com/novavoice/companion/backend/internal/resilience"
)

// consumeRecognition 把识别事件转成客户端消息与编排动作。
// 事件通道关闭（识别流结束或会话取消）后退出。
func (s *Session) consumeRecognition(stream RecognitionStream) {
	for ev := range stream.Events() {
		switch ev.Kind {
		case speechmodel.RecognitionReady:
			s.emitEvent(EventSTTReady, struct{}{})
		case speechmodel.RecognitionPartial:
			s.emitEvent(EventSTTPartial, PartialPayload{Text: ev.Text, Confidence: ev.Confidence})
			s.handlePartial(ev.Text, ev.Confidence)
		case speechmodel.RecognitionSpeechStarted:
			s.handleSpeechStarted()
		case speechmodel.RecognitionFinal:
			s.emitEvent(EventSTTFinal, FinalPayload{Text: ev.Text})
			s.handleFinal(ev.Text)
		case speechmodel.RecognitionError:
			if ev.Err == nil || resilience.IsCancellation(ev.Err) {
				continue
			}
			log.Printf("[convo] recognition error session=%s: %v", s.ID, ev.Err)
			s.emitEvent(EventError, ErrorPayload{Message: "语音识别暂时不可用"})
		}
	}
}
