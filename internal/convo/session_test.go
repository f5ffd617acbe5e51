package convo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/novavoice/companion/backend/internal/config"
	"github.com/novavoice/companion/backend/internal/model/avatar"
	convomodel "github.com/novavoice/companion/backend/internal/model/convo"
	speechmodel "github.com/novavoice/companion/backend/internal/model/speech"
)

type emittedEvent struct {
	name    string
	payload any
}

type audioFrame struct {
	epoch uint32
	pcm   []byte
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
	frames []audioFrame
}

func (e *fakeEmitter) SendEvent(event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emittedEvent{name: event, payload: payload})
	return nil
}

func (e *fakeEmitter) SendAudio(epoch uint32, pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	e.frames = append(e.frames, audioFrame{epoch: epoch, pcm: buf})
	return nil
}

func (e *fakeEmitter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.name == event {
			n++
		}
	}
	return n
}

func (e *fakeEmitter) find(event string) (emittedEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.name == event {
			return ev, true
		}
	}
	return emittedEvent{}, false
}

func (e *fakeEmitter) audioFrames() []audioFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]audioFrame, len(e.frames))
	copy(out, e.frames)
	return out
}

// waitFor 轮询等待某事件出现满 n 次。
func (e *fakeEmitter) waitFor(t *testing.T, event string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.count(event) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, got %d", n, event, e.count(event))
}

func (e *fakeEmitter) waitForAudio(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.audioFrames()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d audio frames, got %d", n, len(e.audioFrames()))
}

type fakeGenerator struct {
	mu     sync.Mutex
	inputs []GenerationInput

	chunks []string
	delay  time.Duration
	err    error
}

func (g *fakeGenerator) Stream(ctx context.Context, input GenerationInput) (*schema.StreamReader[*schema.Message], error) {
	g.mu.Lock()
	g.inputs = append(g.inputs, input)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	sr, sw := schema.Pipe[*schema.Message](len(g.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, chunk := range g.chunks {
			if g.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(g.delay):
				}
			}
			if closed := sw.Send(schema.AssistantMessage(chunk, nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (g *fakeGenerator) recordedInputs() []GenerationInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GenerationInput, len(g.inputs))
	copy(out, g.inputs)
	return out
}

type fakeSynthesizer struct {
	mu        sync.Mutex
	sentences []string

	chunkSize int
	chunks    int
	delay     time.Duration
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req speechmodel.SynthesisRequest, emit func([]byte) error) error {
	f.mu.Lock()
	f.sentences = append(f.sentences, req.Text)
	f.mu.Unlock()
	size := f.chunkSize
	if size == 0 {
		size = 320
	}
	count := f.chunks
	if count == 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		if f.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.delay):
			}
		}
		if err := emit(make([]byte, size)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSynthesizer) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sentences))
	copy(out, f.sentences)
	return out
}

type fakeRecognitionStream struct {
	events chan speechmodel.RecognitionEvent

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeRecognitionStream() *fakeRecognitionStream {
	return &fakeRecognitionStream{events: make(chan speechmodel.RecognitionEvent, 16)}
}

func (f *fakeRecognitionStream) SendAudio(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeRecognitionStream) Events() <-chan speechmodel.RecognitionEvent {
	return f.events
}

func (f *fakeRecognitionStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeRecognitionStream) push(ev speechmodel.RecognitionEvent) {
	f.events <- ev
}

type fakeHistory struct {
	mu       sync.Mutex
	messages []convomodel.Message
}

func (h *fakeHistory) Save(ctx context.Context, msg convomodel.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return nil
}

func (h *fakeHistory) Recent(ctx context.Context, userID, avatarID string, limit int) ([]convomodel.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]convomodel.Message, len(h.messages))
	copy(out, h.messages)
	return out, nil
}

func (h *fakeHistory) saved() []convomodel.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]convomodel.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func testSettings() config.ConversationConfig {
	return config.ConversationConfig{
		FirstNudgeAfter:  60 * time.Millisecond,
		SecondNudgeAfter: 120 * time.Millisecond,
		SoftEndAfter:     180 * time.Millisecond,
		BargeInDebounce:  30 * time.Millisecond,
		HistoryLimit:     10,
		MaxTurnsPerMin:   100,
		MinFlushBytes:    4800,
		FlushInterval:    200 * time.Millisecond,
		Phrases:          config.DefaultPhrases(),
	}
}

type testFixture struct {
	registry *Registry
	session  *Session
	emitter  *fakeEmitter
	gen      *fakeGenerator
	synth    *fakeSynthesizer
	history  *fakeHistory
	recog    *fakeRecognitionStream
}

func startSession(t *testing.T, mutate func(*Deps, *SessionConfig)) *testFixture {
	t.Helper()
	fx := &testFixture{
		emitter: &fakeEmitter{},
		gen:     &fakeGenerator{chunks: []string{"好的。", "我们继续聊。"}},
		synth:   &fakeSynthesizer{},
		history: &fakeHistory{},
		recog:   newFakeRecognitionStream(),
	}
	deps := Deps{
		Generator:   fx.gen,
		Synthesizer: fx.synth,
		Recognizer: RecognizerFunc(func(ctx context.Context, cfg speechmodel.RecognitionConfig) (RecognitionStream, error) {
			return fx.recog, nil
		}),
		History: fx.history,
		Prompt:  func(av avatar.Avatar) string { return "你是" + av.Name },
		Config:  testSettings(),
	}
	sessionCfg := SessionConfig{
		UserID:     "user-1",
		AvatarID:   "daily-mum",
		SampleRate: 16000,
		Language:   "zh-CN",
	}
	if mutate != nil {
		mutate(&deps, &sessionCfg)
	}
	fx.registry = NewRegistry(deps)
	av := avatar.Avatar{ID: sessionCfg.AvatarID, Name: "妈妈", VoiceID: "voice-mum"}
	session, err := fx.registry.Create(context.Background(), sessionCfg, av, fx.emitter)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	fx.session = session
	t.Cleanup(func() { fx.registry.Remove(session.ID, "test done") })
	return fx
}

func TestTurnLifecycle(t *testing.T) {
	fx := startSession(t, nil)

	fx.session.HandleUserText("你好呀。")
	fx.emitter.waitFor(t, EventTurnStart, 1)
	fx.emitter.waitFor(t, EventTurnEnd, 1)

	start, _ := fx.emitter.find(EventTurnStart)
	if start.payload.(TurnPayload).Epoch != 1 {
		t.Errorf("first turn should carry epoch 1, got %+v", start.payload)
	}
	if got := fx.session.State(); got != StateListening {
		t.Errorf("expected listening after turn end, got %s", got)
	}

	spoken := fx.synth.spoken()
	if len(spoken) != 2 || spoken[0] != "好的。" || spoken[1] != "我们继续聊。" {
		t.Errorf("sentences out of order: %v", spoken)
	}
	for _, frame := range fx.emitter.audioFrames() {
		if frame.epoch != 1 {
			t.Errorf("unexpected audio epoch %d", frame.epoch)
		}
	}

	saved := fx.history.saved()
	if len(saved) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d", len(saved))
	}
	if saved[0].Role != convomodel.RoleUser || saved[0].Content != "你好呀。" {
		t.Errorf("unexpected user record: %+v", saved[0])
	}
	if saved[1].Role != convomodel.RoleAssistant || saved[1].Content != "好的。我们继续聊。" {
		t.Errorf("unexpected assistant record: %+v", saved[1])
	}
}

func TestFinalDuringSpeakingMergesAndRestarts(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		gen := deps.Generator.(*fakeGenerator)
		gen.chunks = []string{"让我想想。", "这个故事很长。", "从前有一天。", "后来呢。"}
		gen.delay = 40 * time.Millisecond
	})

	fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionFinal, Text: "讲个故事吧。"})
	fx.emitter.waitForAudio(t, 1)

	fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionFinal, Text: "换个话题。"})
	fx.emitter.waitFor(t, EventStopAudio, 1)
	fx.emitter.waitFor(t, EventTurnStart, 2)

	stop, _ := fx.emitter.find(EventStopAudio)
	payload := stop.payload.(StopAudioPayload)
	if payload.Epoch != 1 || payload.Reason != "barge_in" {
		t.Errorf("unexpected stop payload: %+v", payload)
	}

	inputs := fx.gen.recordedInputs()
	if len(inputs) < 2 {
		t.Fatalf("expected a second generation, got %d", len(inputs))
	}
	if inputs[1].UserText != "讲个故事吧。 换个话题。" {
		t.Errorf("merged turn text mismatch: %q", inputs[1].UserText)
	}

	fx.emitter.waitFor(t, EventTurnEnd, 1)
	if fx.session.CurrentEpoch() != 2 {
		t.Errorf("expected epoch 2 after merged restart, got %d", fx.session.CurrentEpoch())
	}
}

func TestBargeInDebounce(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		gen := deps.Generator.(*fakeGenerator)
		gen.chunks = []string{"第一句话说完了。", "第二句话也不短。", "第三句话收个尾。"}
		gen.delay = 50 * time.Millisecond
		deps.Synthesizer.(*fakeSynthesizer).delay = 30 * time.Millisecond
	})

	fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionFinal, Text: "说点什么吧。"})
	fx.emitter.waitForAudio(t, 1)

	// 低置信度的短暂噪声不触发打断
	fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionPartial, Text: "嗯嗯", Confidence: 0.3})
	time.Sleep(80 * time.Millisecond)
	if fx.emitter.count(EventStopAudio) != 0 {
		t.Fatal("low-confidence partial must not interrupt")
	}

	fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionPartial, Text: "等一下", Confidence: 0.9})
	fx.emitter.waitFor(t, EventStopAudio, 1)

	if got := fx.session.State(); got != StateListening {
		t.Errorf("expected listening after barge-in, got %s", got)
	}
	if fx.emitter.count(EventTurnStart) != 1 {
		t.Errorf("debounced barge-in must not start a new turn")
	}
	if fx.session.CurrentEpoch() != 2 {
		t.Errorf("epoch should advance on barge-in, got %d", fx.session.CurrentEpoch())
	}

	// 打断后到达的旧代际音频必须被拦下
	before := len(fx.emitter.audioFrames())
	time.Sleep(150 * time.Millisecond)
	for _, frame := range fx.emitter.audioFrames()[before:] {
		if frame.epoch == 1 {
			t.Error("stale epoch-1 audio leaked after STOP_AUDIO")
		}
	}
}

func TestSpeechStartedTriggersBargeIn(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		gen := deps.Generator.(*fakeGenerator)
		gen.chunks = []string{"第一句话说完了。", "第二句话也不短。", "第三句话收个尾。"}
		gen.delay = 50 * time.Millisecond
		deps.Synthesizer.(*fakeSynthesizer).delay = 30 * time.Millisecond
	})

	fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionFinal, Text: "说点什么吧。"})
	fx.emitter.waitForAudio(t, 1)

	// 开口事件与高置信中间结果等价，走同一条防抖打断路径
	fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionSpeechStarted})
	fx.emitter.waitFor(t, EventStopAudio, 1)

	if got := fx.session.State(); got != StateListening {
		t.Errorf("expected listening after speech-started barge-in, got %s", got)
	}
	if n := fx.emitter.count(EventTurnStart); n != 1 {
		t.Errorf("barge-in must not start a new turn, got %d", n)
	}
	time.Sleep(80 * time.Millisecond)
	if n := fx.emitter.count(EventStopAudio); n != 1 {
		t.Errorf("expected exactly one STOP_AUDIO, got %d", n)
	}
}

func TestStaleDebounceCannotCancelNextTurn(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		deps.Config.BargeInDebounce = 120 * time.Millisecond
		gen := deps.Generator.(*fakeGenerator)
		gen.chunks = []string{"好的。", "继续说。"}
		gen.delay = 60 * time.Millisecond
	})

	fx.session.HandleUserText("第一轮。")
	fx.emitter.waitForAudio(t, 1)
	// 播报中出现高置信中间结果，但这一轮在防抖窗口内正常结束
	fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionPartial, Text: "等一下", Confidence: 0.9})
	fx.emitter.waitFor(t, EventTurnEnd, 1)

	fx.session.HandleUserText("第二轮。")
	fx.emitter.waitFor(t, EventTurnStart, 2)
	time.Sleep(200 * time.Millisecond)

	if n := fx.emitter.count(EventStopAudio); n != 0 {
		t.Errorf("debounce armed in a finished turn must not fire into the next one, got %d STOP_AUDIO", n)
	}
	fx.emitter.waitFor(t, EventTurnEnd, 2)
	if fx.session.CurrentEpoch() != 2 {
		t.Errorf("expected epoch 2 after second turn, got %d", fx.session.CurrentEpoch())
	}
}

func TestIdlePromptTiers(t *testing.T) {
	fx := startSession(t, nil)

	fx.emitter.waitFor(t, EventNudge, 2)
	fx.emitter.waitFor(t, EventSoftEnd, 1)

	if ev, ok := fx.emitter.find(EventNudge); !ok || ev.payload.(PromptPayload).Text == "" {
		t.Error("nudge must carry a phrase")
	}

	// 软收尾后会话保持打开，仍可正常对话
	fx.session.HandleUserText("我回来了。")
	fx.emitter.waitFor(t, EventTurnStart, 1)
}

func TestIdleTimersResetOnActivity(t *testing.T) {
	fx := startSession(t, nil)

	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		fx.recog.push(speechmodel.RecognitionEvent{Kind: speechmodel.RecognitionPartial, Text: "我在想", Confidence: 0.8})
	}
	if n := fx.emitter.count(EventNudge); n != 0 {
		t.Errorf("partials must keep resetting idle timers, got %d nudges", n)
	}
}

func TestTurnRateLimit(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		deps.Config.MaxTurnsPerMin = 1
	})

	fx.session.HandleUserText("第一句话。")
	fx.emitter.waitFor(t, EventTurnEnd, 1)
	fx.session.HandleUserText("第二句话。")
	fx.emitter.waitFor(t, EventError, 1)

	if n := fx.emitter.count(EventTurnStart); n != 1 {
		t.Errorf("rate-limited turn must not start, got %d turns", n)
	}
	if got := fx.session.State(); got != StateListening {
		t.Errorf("session must stay usable, got %s", got)
	}
}

func TestGenerationFailureKeepsAccumulated(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		deps.Generator.(*fakeGenerator).err = errors.New("upstream unavailable")
	})

	fx.session.HandleUserText("第一次尝试。")
	fx.emitter.waitFor(t, EventError, 1)
	fx.emitter.waitFor(t, EventTurnEnd, 1)

	fx.gen.mu.Lock()
	fx.gen.err = nil
	fx.gen.mu.Unlock()

	fx.session.HandleUserText("再试一次。")
	fx.emitter.waitFor(t, EventTurnEnd, 2)

	inputs := fx.gen.recordedInputs()
	last := inputs[len(inputs)-1]
	if last.UserText != "第一次尝试。 再试一次。" {
		t.Errorf("failed turn input must merge into the retry: %q", last.UserText)
	}
}

func TestAudioOnlyFlushing(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		cfg.AudioOnly = true
		deps.Generator.(*fakeGenerator).chunks = []string{"只有一句完整的话。"}
		synth := deps.Synthesizer.(*fakeSynthesizer)
		synth.chunkSize = 2000
		synth.chunks = 3
	})

	fx.session.HandleUserText("开始吧。")
	fx.emitter.waitFor(t, EventTurnEnd, 1)

	frames := fx.emitter.audioFrames()
	if len(frames) == 0 {
		t.Fatal("expected audio output")
	}
	total := 0
	for _, frame := range frames {
		total += len(frame.pcm)
	}
	if total != 6000 {
		t.Errorf("flushed bytes mismatch: got %d", total)
	}
	// 攒够 MinFlushBytes 才下发，三个小块合成至多两帧
	if len(frames) > 2 {
		t.Errorf("chunks were not aggregated: %d frames", len(frames))
	}
}

func TestAudioOnlyIntervalFlushOnStall(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		cfg.AudioOnly = true
		deps.Config.FlushInterval = 40 * time.Millisecond
		deps.Generator.(*fakeGenerator).chunks = []string{"只有一句完整的话。"}
		synth := deps.Synthesizer.(*fakeSynthesizer)
		synth.chunkSize = 500
		synth.chunks = 2
		synth.delay = 150 * time.Millisecond
	})

	fx.session.HandleUserText("开始吧。")
	fx.emitter.waitForAudio(t, 1)

	// 上游停顿期间攒着的不足阈值音频由间隔计时器兜底下发
	frames := fx.emitter.audioFrames()
	if len(frames[0].pcm) != 500 {
		t.Errorf("stalled sub-threshold audio must flush on the interval, got %d bytes", len(frames[0].pcm))
	}

	fx.emitter.waitFor(t, EventTurnEnd, 1)
	total := 0
	for _, frame := range fx.emitter.audioFrames() {
		total += len(frame.pcm)
	}
	if total != 1000 {
		t.Errorf("flushed bytes mismatch: got %d", total)
	}
}

func TestBufferedModeSendsWholeSentence(t *testing.T) {
	fx := startSession(t, func(deps *Deps, cfg *SessionConfig) {
		deps.Generator.(*fakeGenerator).chunks = []string{"整句一次性下发。"}
		synth := deps.Synthesizer.(*fakeSynthesizer)
		synth.chunkSize = 1000
		synth.chunks = 4
	})

	fx.session.HandleUserText("测试一下。")
	fx.emitter.waitFor(t, EventTurnEnd, 1)

	frames := fx.emitter.audioFrames()
	if len(frames) != 1 {
		t.Fatalf("buffered mode must emit one frame per sentence, got %d", len(frames))
	}
	if len(frames[0].pcm) != 4000 {
		t.Errorf("clip size mismatch: %d", len(frames[0].pcm))
	}
}

func TestForwardAudioReachesRecognizer(t *testing.T) {
	fx := startSession(t, nil)

	if err := fx.session.ForwardAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("forward audio: %v", err)
	}
	fx.recog.mu.Lock()
	defer fx.recog.mu.Unlock()
	if len(fx.recog.sent) != 1 || len(fx.recog.sent[0]) != 4 {
		t.Errorf("audio not forwarded: %v", fx.recog.sent)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fx := startSession(t, nil)

	fx.session.Close("bye")
	fx.session.Close("bye again")

	if err := fx.session.ForwardAudio([]byte{0}); err == nil {
		t.Error("closed session must reject audio")
	}
}
