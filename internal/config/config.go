package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	AI           AIConfig
	Speech       SpeechConfig
	Conversation ConversationConfig
	Knowledge    KnowledgeConfig
	Memory       MemoryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	conversation, err := loadConversationConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		AI:           ai,
		Speech:       speech,
		Conversation: conversation,
		Knowledge:    loadKnowledgeConfig(),
		Memory:       loadMemoryConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	RequestTimeout time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseOptionalIntEnv("AI_REQUEST_TIMEOUT")
	if err != nil {
		return AIConfig{}, err
	}
	requestTimeout := 60 * time.Second
	if timeout != nil && *timeout > 0 {
		requestTimeout = time.Duration(*timeout) * time.Second
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: getEnvOrDefault("AI_STREAM_RESPONSE", "true") != "false",
		RequestTimeout: requestTimeout,
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID       string
	AccessToken string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Region      string
	BaseURL     string
	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	Timeout     int
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		APIKey:      apiKey,
		AccessKey:   strings.TrimSpace(os.Getenv("SPEECH_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("SPEECH_SECRET_KEY")),
		Region:      getEnvOrDefault("SPEECH_REGION", "cn-beijing"),
		BaseURL:     getEnvOrDefault("SPEECH_BASE_URL", ""),
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", "zh-CN"),
		TTSVoice:    getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:    ttsSpeed,
		TTSVolume:   ttsVolume,
		TTSLanguage: getEnvOrDefault("SPEECH_TTS_LANGUAGE", "zh-CN"),
		Timeout:     timeoutSeconds,
		Enabled:     enabled,
	}, nil
}

// ConversationConfig 会话编排相关配置：空闲提醒、打断去抖、音频分片等。
type ConversationConfig struct {
	FirstNudgeAfter  time.Duration
	SecondNudgeAfter time.Duration
	SoftEndAfter     time.Duration
	BargeInDebounce  time.Duration
	HistoryLimit     int
	MaxTurnsPerMin   int
	MinFlushBytes    int
	FlushInterval    time.Duration
	Phrases          PhraseSet
}

// PhraseSet 空闲提醒使用的语句集合，可由 YAML 文件覆盖。
type PhraseSet struct {
	FirstNudge  []string `yaml:"firstNudge"`
	SecondNudge []string `yaml:"secondNudge"`
	SoftEnd     []string `yaml:"softEnd"`
}

// DefaultPhrases 返回内置语句集合。
func DefaultPhrases() PhraseSet {
	return PhraseSet{
		FirstNudge: []string{
			"我还在听，想到什么随时说。",
			"我在这儿呢，继续聊吗？",
		},
		SecondNudge: []string{
			"还在吗？要不要换个话题？",
			"如果刚才没说完，可以接着说。",
		},
		SoftEnd: []string{
			"那我先安静一会儿，你想聊的时候叫我就好。",
		},
	}
}

func loadConversationConfig() (ConversationConfig, error) {
	cfg := ConversationConfig{
		FirstNudgeAfter:  12 * time.Second,
		SecondNudgeAfter: 25 * time.Second,
		SoftEndAfter:     45 * time.Second,
		BargeInDebounce:  150 * time.Millisecond,
		HistoryLimit:     10,
		MaxTurnsPerMin:   30,
		MinFlushBytes:    4800,
		FlushInterval:    200 * time.Millisecond,
		Phrases:          DefaultPhrases(),
	}

	durationOverrides := []struct {
		key string
		dst *time.Duration
	}{
		{"CONVO_FIRST_NUDGE_MS", &cfg.FirstNudgeAfter},
		{"CONVO_SECOND_NUDGE_MS", &cfg.SecondNudgeAfter},
		{"CONVO_SOFT_END_MS", &cfg.SoftEndAfter},
		{"CONVO_BARGE_IN_DEBOUNCE_MS", &cfg.BargeInDebounce},
		{"CONVO_FLUSH_INTERVAL_MS", &cfg.FlushInterval},
	}
	for _, o := range durationOverrides {
		val, err := parseOptionalIntEnv(o.key)
		if err != nil {
			return ConversationConfig{}, err
		}
		if val != nil && *val > 0 {
			*o.dst = time.Duration(*val) * time.Millisecond
		}
	}

	intOverrides := []struct {
		key string
		dst *int
	}{
		{"CONVO_HISTORY_LIMIT", &cfg.HistoryLimit},
		{"CONVO_MAX_TURNS_PER_MIN", &cfg.MaxTurnsPerMin},
		{"CONVO_MIN_FLUSH_BYTES", &cfg.MinFlushBytes},
	}
	for _, o := range intOverrides {
		val, err := parseOptionalIntEnv(o.key)
		if err != nil {
			return ConversationConfig{}, err
		}
		if val != nil && *val > 0 {
			*o.dst = *val
		}
	}

	if path := strings.TrimSpace(os.Getenv("CONVO_PHRASES_FILE")); path != "" {
		phrases, err := LoadPhrases(path)
		if err != nil {
			return ConversationConfig{}, fmt.Errorf("failed to load phrase file %s: %w", path, err)
		}
		cfg.Phrases = phrases
	}

	return cfg, nil
}

// LoadPhrases 从 YAML 文件读取语句集合，缺失的分组回退到内置默认。
func LoadPhrases(path string) (PhraseSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PhraseSet{}, err
	}

	phrases := DefaultPhrases()
	var loaded PhraseSet
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return PhraseSet{}, err
	}

	if len(loaded.FirstNudge) > 0 {
		phrases.FirstNudge = loaded.FirstNudge
	}
	if len(loaded.SecondNudge) > 0 {
		phrases.SecondNudge = loaded.SecondNudge
	}
	if len(loaded.SoftEnd) > 0 {
		phrases.SoftEnd = loaded.SoftEnd
	}

	return phrases, nil
}

// KnowledgeConfig 外部向量检索服务配置。
type KnowledgeConfig struct {
	BaseURL string
	TopK    int
	Timeout time.Duration
}

// Enabled 表示是否配置了检索服务地址。
func (c KnowledgeConfig) Enabled() bool {
	return c.BaseURL != ""
}

func loadKnowledgeConfig() KnowledgeConfig {
	topK := 4
	if raw := strings.TrimSpace(os.Getenv("KNOWLEDGE_TOP_K")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			topK = parsed
		}
	}

	return KnowledgeConfig{
		BaseURL: strings.TrimSpace(os.Getenv("KNOWLEDGE_BASE_URL")),
		TopK:    topK,
		Timeout: 5 * time.Second,
	}
}

// MemoryConfig 外部长期记忆服务配置。
type MemoryConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Enabled 表示是否配置了记忆服务地址。
func (c MemoryConfig) Enabled() bool {
	return c.BaseURL != ""
}

func loadMemoryConfig() MemoryConfig {
	return MemoryConfig{
		BaseURL: strings.TrimSpace(os.Getenv("MEMORY_BASE_URL")),
		Timeout: 5 * time.Second,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
