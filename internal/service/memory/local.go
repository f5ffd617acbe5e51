package memory

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// 每个用户最多保留的记忆条数。
const maxLocalMemories = 200

// Local 进程内记忆实现：按词重叠做朴素相关度匹配，供未接入
// 外部记忆服务的部署使用。
type Local struct {
	mu      sync.RWMutex
	entries map[string][]string
}

func NewLocal() *Local {
	return &Local{entries: make(map[string][]string)}
}

func (l *Local) Add(_ context.Context, text, userID string) error {
	text = strings.TrimSpace(text)
	if text == "" || userID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := append(l.entries[userID], text)
	if len(entries) > maxLocalMemories {
		entries = entries[len(entries)-maxLocalMemories:]
	}
	l.entries[userID] = entries
	return nil
}

// Search 返回与 query 有词重叠的记忆，最新的在前。
func (l *Local) Search(_ context.Context, query, userID string) ([]string, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var hits []string
	entries := l.entries[userID]
	for i := len(entries) - 1; i >= 0 && len(hits) < defaultSearchLimit; i-- {
		if overlaps(entries[i], terms) {
			hits = append(hits, entries[i])
		}
	}
	return hits, nil
}

func overlaps(entry string, terms []string) bool {
	lowered := strings.ToLower(entry)
	for _, term := range terms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

// tokenize 切出查询词：拉丁文按词，CJK 逐字。
func tokenize(query string) []string {
	var terms []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 1 {
			terms = append(terms, strings.ToLower(word.String()))
		}
		word.Reset()
	}
	for _, r := range query {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			terms = append(terms, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return terms
}
