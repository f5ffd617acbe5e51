package live

import (
	"encoding/binary"
	"fmt"
)

// 下行音频帧 = 4字节标记 "TTSA" + 4字节小端 epoch + PCM。
// 客户端据 epoch 丢弃被打断的旧音频。
const (
	audioFrameTag        = "TTSA"
	audioFrameHeaderSize = 8
)

// EncodeAudioFrame 打包一帧携带代际标记的合成音频。
func EncodeAudioFrame(epoch uint32, pcm []byte) []byte {
	frame := make([]byte, audioFrameHeaderSize+len(pcm))
	copy(frame, audioFrameTag)
	binary.LittleEndian.PutUint32(frame[4:], epoch)
	copy(frame[audioFrameHeaderSize:], pcm)
	return frame
}

// DecodeAudioFrame 解出帧头与PCM负载，标记不符时报错。
func DecodeAudioFrame(frame []byte) (epoch uint32, pcm []byte, err error) {
	if len(frame) < audioFrameHeaderSize {
		return 0, nil, fmt.Errorf("audio frame too short: %d bytes", len(frame))
	}
	if string(frame[:4]) != audioFrameTag {
		return 0, nil, fmt.Errorf("unexpected audio frame tag %q", frame[:4])
	}
	return binary.LittleEndian.Uint32(frame[4:8]), frame[audioFrameHeaderSize:], nil
}
