package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

type stubRetriever struct {
	docs []*schema.Document
	err  error
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	return s.docs, s.err
}

func TestRetrieveFiltersByAvatar(t *testing.T) {
	stub := &stubRetriever{docs: []*schema.Document{
		{Content: "公共常识", MetaData: map[string]any{}},
		{Content: "妈妈的专属知识", MetaData: map[string]any{"avatarId": "daily-mum"}},
		{Content: "导师的专属知识", MetaData: map[string]any{"avatarId": "study-mentor"}},
		{Content: "   "},
	}}
	svc := NewService(stub, 4, time.Second)

	got, err := svc.Retrieve(context.Background(), "随便问问", "daily-mum")
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if len(got) != 2 || got[0] != "公共常识" || got[1] != "妈妈的专属知识" {
		t.Fatalf("unexpected snippets: %v", got)
	}
}

func TestRetrieveTruncatesLongSnippets(t *testing.T) {
	stub := &stubRetriever{docs: []*schema.Document{
		{Content: strings.Repeat("长", maxSnippetRunes+50)},
	}}
	svc := NewService(stub, 4, time.Second)

	got, err := svc.Retrieve(context.Background(), "q", "daily-mum")
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if runes := []rune(got[0]); len(runes) != maxSnippetRunes+1 {
		t.Fatalf("expected truncation to %d runes, got %d", maxSnippetRunes+1, len(runes))
	}
}

func TestHTTPRetrieverRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/retrieve" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req retrieveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TopK != 2 {
			t.Errorf("expected topK from option, got %d", req.TopK)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"documents": []map[string]any{
				{"id": "d1", "content": "片段一", "score": 0.9, "metadata": map[string]any{"avatarId": "daily-mum"}},
			},
		})
	}))
	defer server.Close()

	r := NewHTTPRetriever(server.URL)
	docs, err := r.Retrieve(context.Background(), "猫", retriever.WithTopK(2))
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "片段一" {
		t.Fatalf("unexpected docs: %v", docs)
	}
	if docs[0].MetaData["avatarId"] != "daily-mum" {
		t.Fatalf("metadata lost: %v", docs[0].MetaData)
	}
}
