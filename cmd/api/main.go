package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/novavoice/companion/backend/internal/config"
	"github.com/novavoice/companion/backend/internal/convo"
	"github.com/novavoice/companion/backend/internal/handler"
	"github.com/novavoice/companion/backend/internal/handler/stream"
	avatarModel "github.com/novavoice/companion/backend/internal/model/avatar"
	speechModel "github.com/novavoice/companion/backend/internal/model/speech"
	"github.com/novavoice/companion/backend/internal/service/ai"
	"github.com/novavoice/companion/backend/internal/service/history"
	"github.com/novavoice/companion/backend/internal/service/knowledge"
	"github.com/novavoice/companion/backend/internal/service/memory"
	"github.com/novavoice/companion/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	avatarStore := avatarModel.NewMemoryStore(avatarModel.Seed())
	historyService := history.NewService()

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	// Initialize long-term memory: external service when configured,
	// otherwise the in-process fallback
	var memoryService convo.MemoryService
	if cfg.Memory.Enabled() {
		memoryService = memory.NewClient(cfg.Memory)
		log.Printf("Memory service initialized url=%s", cfg.Memory.BaseURL)
	} else {
		memoryService = memory.NewLocal()
		log.Println("MEMORY_BASE_URL 未配置，使用进程内记忆")
	}

	// Initialize knowledge retrieval when a retriever endpoint is configured
	var knowledgeService convo.ContextProvider
	if cfg.Knowledge.Enabled() {
		retriever := knowledge.NewHTTPRetriever(cfg.Knowledge.BaseURL)
		knowledgeService = knowledge.NewService(retriever, cfg.Knowledge.TopK, cfg.Knowledge.Timeout)
		log.Printf("Knowledge service initialized url=%s topK=%d", cfg.Knowledge.BaseURL, cfg.Knowledge.TopK)
	} else {
		log.Println("KNOWLEDGE_BASE_URL 未配置，跳过知识检索")
	}

	// Initialize Speech service
	var speechService *speech.Service
	if cfg.Speech.Enabled {
		speechConfig := &speechModel.SpeechConfig{
			AppID:       cfg.Speech.AppID,
			AccessToken: cfg.Speech.AccessToken,
			APIKey:      cfg.Speech.APIKey,
			AccessKey:   cfg.Speech.AccessKey,
			SecretKey:   cfg.Speech.SecretKey,
			Region:      cfg.Speech.Region,
			BaseURL:     cfg.Speech.BaseURL,
			ASRLanguage: cfg.Speech.ASRLanguage,
			TTSVoice:    cfg.Speech.TTSVoice,
			TTSSpeed:    cfg.Speech.TTSSpeed,
			TTSVolume:   cfg.Speech.TTSVolume,
			TTSLanguage: cfg.Speech.TTSLanguage,
			Timeout:     cfg.Speech.Timeout,
		}
		speechService = speech.NewService(speechConfig)
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，实时会话只接受文本输入")
	}

	promptManager := ai.NewAvatarPromptManager()
	deps := convo.Deps{
		Contexts: knowledgeService,
		Memories: memoryService,
		History:  historyService,
		Prompt:   promptManager.BuildSystemPrompt,
		Config:   cfg.Conversation,
	}
	if aiService != nil {
		deps.Generator = aiService
	}
	if speechService != nil {
		deps.Synthesizer = speechService
		deps.Recognizer = convo.RecognizerFunc(func(ctx context.Context, rc speechModel.RecognitionConfig) (convo.RecognitionStream, error) {
			return speechService.StartRecognition(ctx, rc)
		})
	}
	registry := convo.NewRegistry(deps)

	var streamHandler *stream.Handler
	if aiService != nil {
		streamHandler = stream.New(aiService, historyService, avatarStore, promptManager.BuildSystemPrompt)
	}

	router := handler.NewRouter(avatarStore, historyService, registry, streamHandler)

	startServer(ctx, cfg.Server, router)

	registry.Close()
	if speechService != nil {
		speechService.Cleanup()
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("NovaVoice backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
