package convo

import (
	"strings"
	"testing"
)

func TestSplitSentencesBasic(t *testing.T) {
	sentences, rest := SplitSentences("Hi there. How can I help you toda")
	if len(sentences) != 1 {
		t.Fatalf("expected 1 sentence, got %d: %v", len(sentences), sentences)
	}
	if strings.TrimSpace(sentences[0]) != "Hi there." {
		t.Errorf("unexpected sentence: %q", sentences[0])
	}
	if rest != " How can I help you toda" {
		t.Errorf("unexpected remainder: %q", rest)
	}
}

func TestSplitSentencesEndOfBuffer(t *testing.T) {
	sentences, rest := SplitSentences("How can I help you today?")
	if len(sentences) != 1 || rest != "" {
		t.Fatalf("expected terminal sentence, got sentences=%v rest=%q", sentences, rest)
	}
}

func TestSplitSentencesFullwidth(t *testing.T) {
	sentences, rest := SplitSentences("今天过得怎么样？我们聊聊吧")
	if len(sentences) != 1 {
		t.Fatalf("expected 1 sentence, got %v", sentences)
	}
	if sentences[0] != "今天过得怎么样？" {
		t.Errorf("unexpected sentence: %q", sentences[0])
	}
	if rest != "我们聊聊吧" {
		t.Errorf("unexpected remainder: %q", rest)
	}
}

func TestSplitSentencesKeepsShortFragments(t *testing.T) {
	// 不足最小长度的片段并入下一句而不是单独成句
	sentences, rest := SplitSentences("No. Let us talk about something else. And")
	if len(sentences) != 1 {
		t.Fatalf("expected short fragment to merge forward, got %v", sentences)
	}
	if strings.TrimSpace(sentences[0]) != "No. Let us talk about something else." {
		t.Errorf("unexpected sentence: %q", sentences[0])
	}
	if rest != " And" {
		t.Errorf("unexpected remainder: %q", rest)
	}
}

func TestSplitSentencesDoesNotBreakDecimals(t *testing.T) {
	sentences, rest := SplitSentences("Pi is roughly 3.14159 give or take")
	if len(sentences) != 0 {
		t.Fatalf("decimal point must not terminate a sentence: %v", sentences)
	}
	if rest != "Pi is roughly 3.14159 give or take" {
		t.Errorf("unexpected remainder: %q", rest)
	}
}

func TestSplitSentencesCoverage(t *testing.T) {
	inputs := []string{
		"First one. Second one! Third one? tail",
		"没有标点的长缓冲一直累积",
		"混合 mixed. 句子。还有尾巴",
		"",
	}
	for _, input := range inputs {
		sentences, rest := SplitSentences(input)
		rebuilt := strings.Join(sentences, "") + rest
		if rebuilt != input {
			t.Errorf("reconstruction mismatch: input=%q rebuilt=%q", input, rebuilt)
		}
	}
}

func TestSplitSentencesIdempotent(t *testing.T) {
	_, rest := SplitSentences("A full sentence here. partial tail without punct")
	again, rest2 := SplitSentences(rest)
	if len(again) != 0 {
		t.Errorf("re-splitting the remainder must not invent sentences: %v", again)
	}
	if rest2 != rest {
		t.Errorf("remainder changed on re-split: %q -> %q", rest, rest2)
	}
}
