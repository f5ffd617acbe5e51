package convo

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	convomodel "github.com/novavoice/companion/backend/internal/model/convo"
	"github.com/novavoice/companion/backend/internal/resilience"
)

const (
	drainPollInterval = 20 * time.Millisecond
	persistTimeout    = 10 * time.Second
)

// runTurn 执行一轮对话：并行取知识与记忆、流式生成、逐句切分
// 送合成，排空队列后落库并回到聆听态。任何一步发现代际过期就
// 静默退出，清理由发起打断的一方完成。
func (s *Session) runTurn(ctx context.Context, epoch uint32, userText string) {
	if s.deps.Generator == nil {
		s.failTurn(epoch, "AI 服务未配置，暂时无法回复")
		return
	}
	prompt := s.ensureSystemPrompt()
	knowledge, memories := s.gatherContext(ctx, userText)
	if ctx.Err() != nil || !s.isCurrent(epoch) {
		return
	}

	var history []convomodel.Message
	if s.deps.History != nil {
		recent, err := s.deps.History.Recent(ctx, s.Config.UserID, s.Config.AvatarID, s.deps.Config.HistoryLimit)
		if err != nil {
			if resilience.IsCancellation(err) {
				return
			}
			// 取不到历史就当空上下文继续
			log.Printf("[convo] load history failed session=%s: %v", s.ID, err)
		} else {
			history = recent
		}
	}

	stream, err := s.deps.Generator.Stream(ctx, GenerationInput{
		SystemPrompt: prompt,
		Knowledge:    knowledge,
		Memories:     memories,
		History:      history,
		UserText:     userText,
	})
	if err != nil {
		if resilience.IsCancellation(err) || ctx.Err() != nil {
			return
		}
		log.Printf("[convo] start generation failed session=%s: %v", s.ID, err)
		s.failTurn(epoch, "回复生成暂时不可用，请稍后再试")
		return
	}
	defer stream.Close()

	var reply strings.Builder
	var buffer string
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			if resilience.IsCancellation(recvErr) || ctx.Err() != nil {
				return
			}
			log.Printf("[convo] generation stream failed session=%s: %v", s.ID, recvErr)
			if reply.Len() == 0 {
				s.failTurn(epoch, "回复生成中断，请再说一次")
				return
			}
			// 已经说出去一部分，把拿到的内容讲完
			break
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if !s.isCurrent(epoch) {
			return
		}
		reply.WriteString(chunk.Content)
		buffer += chunk.Content
		sentences, rest := SplitSentences(buffer)
		buffer = rest
		for _, sentence := range sentences {
			if !s.speak(epoch, sentence) {
				return
			}
		}
	}
	// 流结束后缓冲里剩下的尾巴不论长短都要说出来
	if remainder := strings.TrimSpace(buffer); remainder != "" {
		if !s.speak(epoch, remainder) {
			return
		}
	}

	if !s.waitForDrain(ctx, epoch) {
		return
	}
	s.finishTurn(epoch, userText, strings.TrimSpace(reply.String()))
}

// gatherContext 并行拉取知识片段与长期记忆，失败降级为空。
func (s *Session) gatherContext(ctx context.Context, userText string) (knowledge, memories []string) {
	var wg sync.WaitGroup
	if s.deps.Contexts != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.deps.Contexts.Retrieve(ctx, userText, s.Config.AvatarID)
			if err != nil {
				if !resilience.IsCancellation(err) {
					log.Printf("[convo] retrieve knowledge failed session=%s: %v", s.ID, err)
				}
				return
			}
			knowledge = out
		}()
	}
	if s.Config.MemoryEnabled && s.deps.Memories != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.deps.Memories.Search(ctx, userText, s.Config.UserID)
			if err != nil {
				if !resilience.IsCancellation(err) {
					log.Printf("[convo] search memories failed session=%s: %v", s.ID, err)
				}
				return
			}
			memories = out
		}()
	}
	wg.Wait()
	return knowledge, memories
}

// speak 把一句话送进合成队列，首句时进入播报态。返回 false
// 表示代际已过期，调用方应放弃本轮。
func (s *Session) speak(epoch uint32, sentence string) bool {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return true
	}
	s.mu.Lock()
	if s.closed.Load() || epoch != s.epoch.Load() {
		s.mu.Unlock()
		return false
	}
	if s.state == StateThinking {
		s.setStateLocked(StateSpeaking)
	}
	s.mu.Unlock()
	s.queue.enqueue(synthJob{sentence: sentence, epoch: epoch})
	return true
}

// waitForDrain 等待本代际的合成任务全部出队完成。
func (s *Session) waitForDrain(ctx context.Context, epoch uint32) bool {
	for {
		if ctx.Err() != nil || !s.isCurrent(epoch) {
			return false
		}
		if s.queue.pendingFor(epoch) == 0 {
			return true
		}
		time.Sleep(drainPollInterval)
	}
}

// finishTurn 正常收尾：清空累积话语、回到聆听态并落库。
// 落库放在状态切换之后，失败只影响这一条记录。
func (s *Session) finishTurn(epoch uint32, userText, reply string) {
	s.mu.Lock()
	if s.closed.Load() || epoch != s.epoch.Load() {
		s.mu.Unlock()
		return
	}
	s.turnCancel = nil
	s.accumulated = nil
	s.barge.reset()
	s.setStateLocked(StateListening)
	s.idle.arm()
	s.emitEvent(EventTurnEnd, TurnPayload{Epoch: epoch})
	s.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if s.deps.History != nil {
		if err := s.deps.History.Save(persistCtx, convomodel.Message{
			UserID:   s.Config.UserID,
			AvatarID: s.Config.AvatarID,
			Role:     convomodel.RoleUser,
			Content:  userText,
		}); err != nil {
			log.Printf("[convo] save user message failed session=%s: %v", s.ID, err)
		}
		if reply != "" {
			if err := s.deps.History.Save(persistCtx, convomodel.Message{
				UserID:   s.Config.UserID,
				AvatarID: s.Config.AvatarID,
				Role:     convomodel.RoleAssistant,
				Content:  reply,
			}); err != nil {
				log.Printf("[convo] save assistant message failed session=%s: %v", s.ID, err)
			}
		}
	}
	if s.Config.MemoryEnabled && s.deps.Memories != nil && reply != "" {
		exchange := "用户: " + userText + "\n" + s.Avatar.Name + ": " + reply
		if err := s.deps.Memories.Add(persistCtx, exchange, s.Config.UserID); err != nil {
			log.Printf("[convo] add memory failed session=%s: %v", s.ID, err)
		}
	}
}

// failTurn 生成失败的收尾：告知客户端后回到聆听态，累积话语
// 保留，用户接着说会合并重试。
func (s *Session) failTurn(epoch uint32, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || epoch != s.epoch.Load() {
		return
	}
	s.turnCancel = nil
	s.barge.reset()
	s.emitEvent(EventError, ErrorPayload{Message: message})
	s.emitEvent(EventTurnEnd, TurnPayload{Epoch: epoch})
	s.setStateLocked(StateListening)
	s.idle.arm()
}

// ensureSystemPrompt 首轮构建系统提示词并缓存，整个会话复用。
func (s *Session) ensureSystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.systemPrompt == "" && s.deps.Prompt != nil {
		s.systemPrompt = s.deps.Prompt(s.Avatar)
	}
	return s.systemPrompt
}
