package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechmodel "github.com/novavoice/companion/backend/internal/model/speech"
)

// 单向流式合成端点：一句文本换一段流式 PCM。
const ttsStreamURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

type ttsStreamRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// Synthesize 把一句文本流式合成为 PCM，音频块按到达顺序通过 emit
// 回调交给调用方。ctx 取消会立即断开到提供商的连接。实现
// convo.Synthesizer。
func (s *Service) Synthesize(ctx context.Context, req speechmodel.SynthesisRequest, emit func(chunk []byte) error) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("TTS text is empty")
	}
	appKey, accessKey, err := resolveCredentials(s.config)
	if err != nil {
		return err
	}

	speakers := resolveSpeakerCandidates(strings.TrimSpace(req.Voice), strings.TrimSpace(s.config.TTSVoice))
	var lastMismatch error

	for _, speaker := range speakers {
		for idx, resourceID := range resolveResourceCandidates(speaker) {
			attemptErr := s.synthesizeOnce(ctx, req, appKey, accessKey, speaker, resourceID, emit)
			if attemptErr == nil {
				if idx > 0 {
					log.Printf("[tts] voice %s succeeded with fallback resource %s", speaker, resourceID)
				}
				return nil
			}
			if isResourceMismatchError(attemptErr) {
				log.Printf("[tts] voice %s resource %s mismatch: %v", speaker, resourceID, attemptErr)
				lastMismatch = attemptErr
				continue
			}
			return attemptErr
		}
	}

	if lastMismatch != nil {
		return lastMismatch
	}
	return fmt.Errorf("TTS synthesis failed: no compatible resource id for voice candidates %v", speakers)
}

func (s *Service) synthesizeOnce(
	ctx context.Context,
	req speechmodel.SynthesisRequest,
	appKey, accessKey, speaker, resourceID string,
	emit func(chunk []byte) error,
) error {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := s.dialer.DialContext(ctx, ttsStreamURL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	key := req.SessionID + "/tts/" + connectID
	s.manager.Track(key, conn)
	defer s.manager.Release(key)

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[tts] connected logid=%s", logid)
		}
	}

	// ctx 取消时直接断开连接，让阻塞中的读写立刻失败
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	payloadData, err := json.Marshal(s.buildSynthesisRequest(req, speaker))
	if err != nil {
		return fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	encoded, err := EncodeMessage(CreateFullClientRequest(payloadData, NoCompression))
	if err != nil {
		return fmt.Errorf("failed to encode TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
		return fmt.Errorf("failed to send TTS request: %w", err)
	}

	emitted := 0
	deliver := func(chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		emitted += len(chunk)
		return emit(chunk)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, decErr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if decErr != nil {
				payload = msg.Payload
			}
			return fmt.Errorf("TTS error: %s", string(payload))

		case AudioOnlyServerResponse:
			chunk, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return fmt.Errorf("failed to decompress audio chunk: %w", err)
			}
			if err := deliver(chunk); err != nil {
				return err
			}
			if msg.IsLastPacket() {
				return s.finishSynthesis(emitted)
			}

		case FullServerResponse:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return fmt.Errorf("failed to decompress TTS payload: %w", err)
			}
			var serverResp ttsServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &serverResp); err != nil {
					log.Printf("[tts] failed to unmarshal response payload: %v", err)
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 {
						return fmt.Errorf("TTS API error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverResp.Data)
						if err != nil {
							return fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						if err := deliver(chunk); err != nil {
							return err
						}
					}
				}
			}

			finalizedByEvent := msg.Header.MessageFlags == WithEvent && msg.EventType == EventTypeSessionFinished
			if finalizedByEvent || msg.IsLastPacket() || serverResp.Sequence < 0 {
				return s.finishSynthesis(emitted)
			}

		default:
			log.Printf("[tts] unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

func (s *Service) finishSynthesis(emitted int) error {
	if emitted == 0 {
		return fmt.Errorf("TTS audio is empty")
	}
	return nil
}

func (s *Service) buildSynthesisRequest(req speechmodel.SynthesisRequest, speaker string) *ttsStreamRequest {
	out := &ttsStreamRequest{}

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.NewString()
	}
	out.User.UID = uid

	out.ReqParams.Speaker = speaker
	out.ReqParams.Text = req.Text
	out.ReqParams.AudioParams.Format = "pcm"
	out.ReqParams.AudioParams.SampleRate = req.SampleRate
	if out.ReqParams.AudioParams.SampleRate <= 0 {
		out.ReqParams.AudioParams.SampleRate = 24000
	}

	speed := req.Speed
	if speed <= 0 && s.config.TTSSpeed > 0 {
		speed = s.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		out.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 && s.config.TTSVolume > 0 {
		volume = s.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		out.ReqParams.AudioParams.VolumeRatio = volume
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(s.config.TTSLanguage)
	}
	if language != "" {
		out.ReqParams.Language = language
	}

	if additions, err := json.Marshal(map[string]any{"disable_markdown_filter": false}); err == nil {
		out.ReqParams.Additions = string(additions)
	}
	return out
}
