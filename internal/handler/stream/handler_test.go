package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/novavoice/companion/backend/internal/convo"
	"github.com/novavoice/companion/backend/internal/model/avatar"
	convomodel "github.com/novavoice/companion/backend/internal/model/convo"
	historyservice "github.com/novavoice/companion/backend/internal/service/history"
)

type stubAI struct {
	streaming bool
	chunks    []string
	err       error

	inputs []convo.GenerationInput
}

func (s *stubAI) StreamingEnabled() bool { return s.streaming }

func (s *stubAI) Stream(ctx context.Context, input convo.GenerationInput) (*schema.StreamReader[*schema.Message], error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	sr, sw := schema.Pipe[*schema.Message](len(s.chunks))
	go func() {
		defer sw.Close()
		for _, chunk := range s.chunks {
			if closed := sw.Send(schema.AssistantMessage(chunk, nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (s *stubAI) Generate(ctx context.Context, input convo.GenerationInput) (*schema.Message, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return schema.AssistantMessage(strings.Join(s.chunks, ""), nil), nil
}

func newHandler(ai *stubAI) (*Handler, *historyservice.Service) {
	histories := historyservice.NewService()
	store := avatar.NewMemoryStore(avatar.Seed())
	h := New(ai, histories, store, func(av avatar.Avatar) string { return "你是" + av.Name })
	return h, histories
}

func parseEvents(t *testing.T, body string) []StreamResponse {
	t.Helper()
	var events []StreamResponse
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad sse line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func eventsOfType(events []StreamResponse, kind string) []StreamResponse {
	var out []StreamResponse
	for _, ev := range events {
		if ev.Event == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestStreamingResponseDeltas(t *testing.T) {
	ai := &stubAI{streaming: true, chunks: []string{"你好", "呀。"}}
	h, histories := newHandler(ai)

	rec := httptest.NewRecorder()
	err := h.HandleStreamRequest(context.Background(), rec, "user-1", "warm-companion", "在吗")
	if err != nil {
		t.Fatalf("HandleStreamRequest: %v", err)
	}

	events := parseEvents(t, rec.Body.String())
	if deltas := eventsOfType(events, "delta"); len(deltas) != 2 {
		t.Errorf("expected 2 delta events, got %d", len(deltas))
	}
	finals := eventsOfType(events, "message")
	if len(finals) != 1 || finals[0].Content != "你好呀。" {
		t.Errorf("unexpected final message: %+v", finals)
	}
	if ends := eventsOfType(events, "end"); len(ends) != 1 || !ends[0].Finished {
		t.Errorf("missing end event: %+v", events)
	}

	saved, _ := histories.Recent(context.Background(), "user-1", "warm-companion", 10)
	if len(saved) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d", len(saved))
	}
	if saved[1].Role != convomodel.RoleAssistant || saved[1].Content != "你好呀。" {
		t.Errorf("unexpected assistant record: %+v", saved[1])
	}
}

func TestNonStreamingResponse(t *testing.T) {
	ai := &stubAI{streaming: false, chunks: []string{"好的。"}}
	h, _ := newHandler(ai)

	rec := httptest.NewRecorder()
	if err := h.HandleStreamRequest(context.Background(), rec, "user-1", "warm-companion", "在吗"); err != nil {
		t.Fatalf("HandleStreamRequest: %v", err)
	}

	events := parseEvents(t, rec.Body.String())
	if deltas := eventsOfType(events, "delta"); len(deltas) != 0 {
		t.Errorf("non-streaming path must not emit deltas: %+v", deltas)
	}
	finals := eventsOfType(events, "message")
	if len(finals) != 1 || finals[0].Content != "好的。" {
		t.Errorf("unexpected final message: %+v", finals)
	}
}

func TestPromptAndHistoryReachGeneration(t *testing.T) {
	ai := &stubAI{streaming: true, chunks: []string{"嗯。"}}
	h, histories := newHandler(ai)

	seed := convomodel.Message{UserID: "user-1", AvatarID: "warm-companion", Role: convomodel.RoleUser, Content: "早些的话"}
	if err := histories.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := h.HandleStreamRequest(context.Background(), rec, "user-1", "warm-companion", "在吗"); err != nil {
		t.Fatalf("HandleStreamRequest: %v", err)
	}

	if len(ai.inputs) != 1 {
		t.Fatalf("expected one generation call, got %d", len(ai.inputs))
	}
	input := ai.inputs[0]
	if !strings.Contains(input.SystemPrompt, "暖心陪伴者") {
		t.Errorf("system prompt missing avatar identity: %q", input.SystemPrompt)
	}
	if len(input.History) != 1 || input.History[0].Content != "早些的话" {
		t.Errorf("prior transcript missing from input: %+v", input.History)
	}
	if input.UserText != "在吗" {
		t.Errorf("unexpected user text %q", input.UserText)
	}
}

func TestUnknownAvatarAnsweredWithSSEError(t *testing.T) {
	ai := &stubAI{streaming: true, chunks: []string{"嗯。"}}
	h, _ := newHandler(ai)

	rec := httptest.NewRecorder()
	if err := h.HandleStreamRequest(context.Background(), rec, "user-1", "nobody", "在吗"); err == nil {
		t.Fatal("expected error for unknown avatar")
	}
	events := parseEvents(t, rec.Body.String())
	errs := eventsOfType(events, "error")
	if len(errs) != 1 || !strings.Contains(errs[0].Error, "avatar not found") {
		t.Errorf("unexpected error events: %+v", errs)
	}
}

func TestGenerationFailureReported(t *testing.T) {
	ai := &stubAI{streaming: true, err: errors.New("model offline")}
	h, _ := newHandler(ai)

	rec := httptest.NewRecorder()
	if err := h.HandleStreamRequest(context.Background(), rec, "user-1", "warm-companion", "在吗"); err == nil {
		t.Fatal("expected generation error to propagate")
	}
	events := parseEvents(t, rec.Body.String())
	if errs := eventsOfType(events, "error"); len(errs) != 1 {
		t.Errorf("expected one error event, got %+v", errs)
	}
}
