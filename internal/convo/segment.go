package convo

import (
	"strings"
	"unicode"
)

// 不足这个长度（去除首尾空白后按 rune 计）的片段并入下一句，
// 避免把 "嗯。" 或孤立标点当成一句话送去合成。
const minSentenceRunes = 5

// SplitSentences 把流式累积的文本缓冲切成完整句子与剩余部分。
// 句子以 . ! ? 结尾且后随空白或缓冲末尾（避免切开 3.14 这类写法），
// 全角的 。！？ 直接视为句尾。返回的句子保留原始空白，把全部句子
// 与剩余部分按序拼接可以还原输入缓冲。对同一缓冲重复调用不会
// 产生新的切分。
func SplitSentences(buffer string) ([]string, string) {
	var sentences []string
	runes := []rune(buffer)
	start := 0
	for i := 0; i < len(runes); i++ {
		terminal := false
		switch runes[i] {
		case '.', '!', '?':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				terminal = true
			}
		case '。', '！', '？':
			terminal = true
		}
		if !terminal {
			continue
		}
		candidate := string(runes[start : i+1])
		if len([]rune(strings.TrimSpace(candidate))) < minSentenceRunes {
			continue
		}
		sentences = append(sentences, candidate)
		start = i + 1
	}
	return sentences, string(runes[start:])
}
