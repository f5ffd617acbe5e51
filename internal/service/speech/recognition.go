package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	speechmodel "github.com/novavoice/companion/backend/internal/model/speech"
)

// 双向流式识别端点：边推音频边返回中间与最终结果。
const asrStreamURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"

const (
	// 提供商不返回置信度，按结果形态估一个：最终结果高、中间结果低。
	finalConfidence   = 0.95
	partialConfidence = 0.8
)

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text      string `json:"text"`
			StartTime int64  `json:"start_time"`
			EndTime   int64  `json:"end_time"`
			Definite  bool   `json:"definite"`
		} `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
}

type asrStreamRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// RecognitionSession 一条到提供商的长连接识别会话：上行分包推送
// 麦克风音频，下行把识别响应整理成内部事件流。实现
// convo.RecognitionStream。
type RecognitionSession struct {
	conn    *websocket.Conn
	events  chan speechmodel.RecognitionEvent
	manager *ConnectionManager
	key     string

	mu     sync.Mutex
	seq    int32
	closed bool

	// 仅 readLoop 访问
	ready         bool
	inUtterance   bool
	lastPartial   string
	definiteCount int
}

// StartRecognition 建立流式识别会话。返回后即可通过 SendAudio
// 推送音频，事件从 Events 读取，底层连接断开后通道关闭。
func (s *Service) StartRecognition(ctx context.Context, rc speechmodel.RecognitionConfig) (*RecognitionSession, error) {
	appID, token, err := resolveCredentials(s.config)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	resourceID := "volc.bigasr.sauc.duration"
	if s.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", rc.SessionID)

	conn, resp, err := s.dialer.DialContext(ctx, asrStreamURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[asr] connected session=%s logid=%s", rc.SessionID, logid)
	}

	payloadData, err := json.Marshal(s.buildRecognitionRequest(rc))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	compressed, err := CompressPayload(payloadData, GzipCompression)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to compress ASR request: %w", err)
	}
	handshake, err := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to encode ASR request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, handshake); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	session := &RecognitionSession{
		conn:    conn,
		events:  make(chan speechmodel.RecognitionEvent, 32),
		manager: s.manager,
		key:     rc.SessionID + "/asr",
		seq:     2, // 握手请求占用序号1，音频从2开始
	}
	s.manager.Track(session.key, conn)
	go session.readLoop()
	return session, nil
}

func (s *Service) buildRecognitionRequest(rc speechmodel.RecognitionConfig) *asrStreamRequest {
	req := &asrStreamRequest{}
	req.User.UID = rc.SessionID

	req.Audio.Format = "pcm"
	req.Audio.Codec = "raw"
	req.Audio.Rate = rc.SampleRate
	if req.Audio.Rate <= 0 {
		req.Audio.Rate = 16000
	}
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Audio.Language = rc.Language
	if req.Audio.Language == "" {
		req.Audio.Language = s.config.ASRLanguage
	}

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

// SendAudio 推送一段原始 PCM。分包与压缩在这里处理，调用方
// 直接转发客户端的二进制帧即可。
func (r *RecognitionSession) SendAudio(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	compressed, err := CompressPayload(data, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress audio chunk: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recognition session closed")
	}
	msg := CreateAudioOnlyRequest(compressed, r.seq, false, GzipCompression)
	encoded, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode audio message: %w", err)
	}
	if err := r.conn.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	r.seq++
	return nil
}

// Events 识别事件流。会话关闭或连接断开后通道关闭。
func (r *RecognitionSession) Events() <-chan speechmodel.RecognitionEvent {
	return r.events
}

// Close 发送收尾包并关闭连接，幂等。
func (r *RecognitionSession) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	// 尽力通知服务端音频结束，失败也继续关闭
	if msg, err := EncodeMessage(CreateAudioOnlyRequest(nil, r.seq, true, GzipCompression)); err == nil {
		_ = r.conn.WriteMessage(websocket.BinaryMessage, msg)
	}
	r.mu.Unlock()
	r.manager.Release(r.key)
	return nil
}

func (r *RecognitionSession) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *RecognitionSession) readLoop() {
	defer close(r.events)
	defer r.manager.Release(r.key)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if !r.isClosed() {
				r.events <- speechmodel.RecognitionEvent{
					Kind: speechmodel.RecognitionError,
					Err:  fmt.Errorf("failed to read ASR response: %w", err),
				}
			}
			return
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			r.events <- speechmodel.RecognitionEvent{
				Kind: speechmodel.RecognitionError,
				Err:  fmt.Errorf("failed to decode ASR message: %w", err),
			}
			return
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, decErr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if decErr != nil {
				payload = msg.Payload
			}
			r.events <- speechmodel.RecognitionEvent{
				Kind: speechmodel.RecognitionError,
				Err:  fmt.Errorf("ASR error %d: %s", msg.ErrorCode, string(payload)),
			}
			return

		case FullServerResponse:
			if !r.ready {
				r.ready = true
				r.events <- speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionReady}
			}
			payload, decErr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if decErr != nil {
				log.Printf("[asr] failed to decompress payload: %v", decErr)
				continue
			}
			var serverResp asrServerMessage
			if len(payload) == 0 {
				continue
			}
			if err := json.Unmarshal(payload, &serverResp); err != nil {
				log.Printf("[asr] failed to unmarshal response: %v", err)
				continue
			}
			if serverResp.Code != 0 && serverResp.Code != 20000000 {
				r.events <- speechmodel.RecognitionEvent{
					Kind: speechmodel.RecognitionError,
					Err:  fmt.Errorf("ASR API error %d: %s", serverResp.Code, serverResp.Message),
				}
				return
			}
			r.handleResult(&serverResp)
		}
	}
}

// handleResult 把全量返回的分句列表整理成增量事件：已出过的
// 最终句跳过，进行中的句子先报一次开口，文本变化再报中间结果。
func (r *RecognitionSession) handleResult(resp *asrServerMessage) {
	for i, u := range resp.Result.Utterances {
		if i < r.definiteCount {
			continue
		}
		text := strings.TrimSpace(u.Text)
		if u.Definite {
			r.definiteCount++
			r.inUtterance = false
			r.lastPartial = ""
			if text != "" {
				r.events <- speechmodel.RecognitionEvent{
					Kind:       speechmodel.RecognitionFinal,
					Text:       text,
					Confidence: finalConfidence,
				}
			}
			continue
		}
		if text == "" {
			continue
		}
		if !r.inUtterance {
			r.inUtterance = true
			r.events <- speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionSpeechStarted}
		}
		if text != r.lastPartial {
			r.lastPartial = text
			r.events <- speechmodel.RecognitionEvent{
				Kind:       speechmodel.RecognitionPartial,
				Text:       text,
				Confidence: partialConfidence,
			}
		}
	}
}
