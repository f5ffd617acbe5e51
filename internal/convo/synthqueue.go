package convo

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	speechmodel "github.com/novavoice/companion/backend/internal/model/speech"
	"github.com/novavoice/companion/backend/internal/resilience"
)

// errStaleEpoch 异步结果落地时发现代际已被打断推进。
var errStaleEpoch = errors.New("result belongs to a superseded turn")

type synthJob struct {
	sentence string
	epoch    uint32
}

// synthQueue 每会话一条 FIFO 合成队列，单个消费 goroutine 保证
// 句子按生成顺序播出。出队时与发送音频前都会校验代际，打断后
// 残留的任务整条丢弃。
type synthQueue struct {
	session *Session
	jobs    chan synthJob

	mu      sync.Mutex
	pending map[uint32]int
	active  context.CancelFunc
}

func newSynthQueue(s *Session) *synthQueue {
	return &synthQueue{
		session: s,
		jobs:    make(chan synthJob, 64),
		pending: make(map[uint32]int),
	}
}

// enqueue 入队一句待合成文本。队列满说明合成远远落后于生成，
// 丢弃该句并继续，不阻塞生成流。
func (q *synthQueue) enqueue(job synthJob) {
	q.mu.Lock()
	q.pending[job.epoch]++
	q.mu.Unlock()
	select {
	case q.jobs <- job:
	default:
		q.finish(job.epoch)
		log.Printf("[convo] synthesis queue full, dropping sentence session=%s", q.session.ID)
	}
}

// pendingFor 指定代际尚未处理完的任务数。
func (q *synthQueue) pendingFor(epoch uint32) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[epoch]
}

// cancelActive 取消正在进行的单句合成，队列里的后续任务由代际
// 校验丢弃。
func (q *synthQueue) cancelActive() {
	q.mu.Lock()
	if q.active != nil {
		q.active()
	}
	q.mu.Unlock()
}

func (q *synthQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *synthQueue) process(ctx context.Context, job synthJob) {
	defer q.finish(job.epoch)
	if !q.session.isCurrent(job.epoch) {
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.active = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.active = nil
		q.mu.Unlock()
		cancel()
	}()

	if err := q.render(jobCtx, job); err != nil &&
		!errors.Is(err, errStaleEpoch) && !resilience.IsCancellation(err) {
		// 单句失败只跳过这一句，回合继续
		log.Printf("[convo] synthesize sentence failed session=%s: %v", q.session.ID, err)
	}
}

func (q *synthQueue) render(ctx context.Context, job synthJob) error {
	s := q.session
	if s.deps.Synthesizer == nil {
		return nil
	}
	req := speechmodel.SynthesisRequest{
		SessionID:  s.ID,
		Text:       job.sentence,
		Voice:      s.Avatar.VoiceID,
		Language:   s.Config.Language,
		SampleRate: s.Config.SampleRate,
	}
	if s.Config.AudioOnly {
		flusher := newChunkFlusher(s, job.epoch, s.deps.Config.MinFlushBytes, s.deps.Config.FlushInterval)
		if err := s.deps.Synthesizer.Synthesize(ctx, req, flusher.write); err != nil {
			flusher.close()
			return err
		}
		return flusher.close()
	}
	// 带形象的会话整句攒齐一次下发，便于客户端做口型对齐
	var clip bytes.Buffer
	err := s.deps.Synthesizer.Synthesize(ctx, req, func(chunk []byte) error {
		if !s.isCurrent(job.epoch) {
			return errStaleEpoch
		}
		clip.Write(chunk)
		return nil
	})
	if err != nil {
		return err
	}
	if clip.Len() == 0 {
		return nil
	}
	return s.sendAudio(job.epoch, clip.Bytes())
}

func (q *synthQueue) finish(epoch uint32) {
	q.mu.Lock()
	q.pending[epoch]--
	if q.pending[epoch] <= 0 {
		delete(q.pending, epoch)
	}
	q.mu.Unlock()
}

// chunkFlusher 纯音频模式的小块聚合：攒够字节数或超过时间间隔
// 就把缓冲作为一帧下发，降低首声延迟同时避免帧过碎。间隔兜底由
// 计时器驱动，合成上游停顿时缓冲里的音频也不会压着不发。
type chunkFlusher struct {
	s        *Session
	epoch    uint32
	minBytes int
	interval time.Duration

	mu    sync.Mutex
	buf   bytes.Buffer
	timer *time.Timer
}

func newChunkFlusher(s *Session, epoch uint32, minBytes int, interval time.Duration) *chunkFlusher {
	return &chunkFlusher{
		s:        s,
		epoch:    epoch,
		minBytes: minBytes,
		interval: interval,
	}
}

func (f *chunkFlusher) write(chunk []byte) error {
	if !f.s.isCurrent(f.epoch) {
		return errStaleEpoch
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf.Write(chunk)
	if f.buf.Len() >= f.minBytes {
		return f.flushLocked()
	}
	if f.timer == nil {
		f.timer = time.AfterFunc(f.interval, f.timerFlush)
	}
	return nil
}

func (f *chunkFlusher) timerFlush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timer = nil
	if err := f.flushLocked(); err != nil && !errors.Is(err, errStaleEpoch) {
		log.Printf("[convo] interval flush failed session=%s: %v", f.s.ID, err)
	}
}

// close 停掉兜底计时器并把残余缓冲发出去，一句合成结束时调用。
func (f *chunkFlusher) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

func (f *chunkFlusher) flushLocked() error {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.buf.Len() == 0 {
		return nil
	}
	frame := make([]byte, f.buf.Len())
	copy(frame, f.buf.Bytes())
	f.buf.Reset()
	return f.s.sendAudio(f.epoch, frame)
}
