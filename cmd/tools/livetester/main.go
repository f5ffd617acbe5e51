// livetester 连接实时会话WebSocket端点，按脚本发送文本并打印
// 下行事件与音频帧，用于手工验证编排链路。
//
// 用法示例:
//
//	go run ./cmd/tools/livetester -url ws://localhost:8080/api/live/ws \
//	  -avatar warm-companion -user tester -text "你好。|讲个故事吧。"
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type controlMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	url := flag.String("url", "ws://localhost:8080/api/live/ws", "live WebSocket 端点")
	avatarID := flag.String("avatar", "warm-companion", "形象 ID")
	userID := flag.String("user", "livetester", "用户 ID")
	texts := flag.String("text", "你好呀。", "按 | 分隔的发送脚本")
	audioPath := flag.String("audio", "", "可选: 以二进制帧发送的 PCM 文件")
	sampleRate := flag.Int("rate", 16000, "音频采样率")
	memory := flag.Bool("memory", false, "开启长期记忆")
	turnWait := flag.Duration("wait", 20*time.Second, "每轮等待 TURN_END 的超时")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()

	events := make(chan controlMessage, 64)
	go readLoop(conn, events)

	send(conn, "START_SESSION", map[string]any{
		"avatarId":      *avatarID,
		"userId":        *userID,
		"memoryEnabled": *memory,
		"sampleRate":    *sampleRate,
		"languageCode":  "zh-CN",
		"audioOnly":     true,
	})
	if !waitFor(events, "SESSION_STARTED", 10*time.Second) {
		log.Fatal("未收到 SESSION_STARTED")
	}

	if *audioPath != "" {
		sendAudioFile(conn, *audioPath)
		waitFor(events, "TURN_END", *turnWait)
	}

	for _, text := range strings.Split(*texts, "|") {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		log.Printf(">>> SEND_TEXT %q", text)
		send(conn, "SEND_TEXT", map[string]any{"text": text})
		if !waitFor(events, "TURN_END", *turnWait) {
			log.Printf("[WARN] 等待 TURN_END 超时")
		}
	}

	send(conn, "END_SESSION", map[string]any{})
	time.Sleep(200 * time.Millisecond)
	log.Println("测试完成")
}

func send(conn *websocket.Conn, msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Fatalf("序列化 %s 失败: %v", msgType, err)
	}
	err = conn.WriteJSON(controlMessage{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Fatalf("发送 %s 失败: %v", msgType, err)
	}
}

// sendAudioFile 把 PCM 文件切成 100ms 左右的块依次发送。
func sendAudioFile(conn *websocket.Conn, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}
	const chunkSize = 3200
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data[offset:end]); err != nil {
			log.Fatalf("发送音频块失败: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Printf(">>> 已发送音频 %d 字节", len(data))
}

func readLoop(conn *websocket.Conn, events chan<- controlMessage) {
	defer close(events)
	var audioBytes int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("连接关闭: %v", err)
			return
		}
		if msgType == websocket.BinaryMessage {
			if len(data) >= 8 && string(data[:4]) == "TTSA" {
				epoch := binary.LittleEndian.Uint32(data[4:8])
				audioBytes += len(data) - 8
				log.Printf("<<< AUDIO epoch=%d bytes=%d total=%d", epoch, len(data)-8, audioBytes)
			} else {
				log.Printf("<<< 未知二进制帧 %d 字节", len(data))
			}
			continue
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("<<< 无法解析的控制消息: %s", data)
			continue
		}
		log.Printf("<<< %s %s", msg.Type, compact(msg.Data))
		events <- msg
	}
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}

func waitFor(events <-chan controlMessage, msgType string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return false
			}
			if msg.Type == msgType {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
