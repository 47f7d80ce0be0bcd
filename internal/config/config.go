package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"healthai/internal/domain"
)

// OpenAIConfig holds connection details for an OpenAI-compatible HTTP API.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type              string        `yaml:"type"`
	Model             string        `yaml:"model"`
	Dimension         int           `yaml:"dimension"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	TimeoutSecs       int           `yaml:"timeout_secs"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	OpenAI            *OpenAIConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	MaxSize     int `yaml:"max_size"`
	OverlapSize int `yaml:"overlap_size"`
	Lookback    int `yaml:"lookback"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type       string          `yaml:"type"`
	Collection string          `yaml:"collection"`
	Qdrant     *QdrantConfig   `yaml:"qdrant,omitempty"`
	SQLite     *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres   *PostgresConfig `yaml:"postgres,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// GeneratorConfig selects the answer backend and the prompt it receives.
type GeneratorConfig struct {
	Type         string        `yaml:"type"`
	Model        string        `yaml:"model"`
	ContextLimit int           `yaml:"context_limit"`
	PromptStyle  string        `yaml:"prompt_style"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	TimeoutSecs  int           `yaml:"timeout_secs"`
	OpenAI       *OpenAIConfig `yaml:"openai,omitempty"`
}

type ConversationConfig struct {
	TopK             int     `yaml:"top_k"`
	HistoryMaxTurns  int     `yaml:"history_max_turns"`
	MinScore         float64 `yaml:"min_score"`
	MaxQueryChars    int     `yaml:"max_query_chars"`
	QueryTimeoutSecs int     `yaml:"query_timeout_secs"`
}

type IngestConfig struct {
	BatchSize     int    `yaml:"batch_size"`
	Concurrency   int    `yaml:"concurrency"`
	RetryAttempts int    `yaml:"retry_attempts"`
	KnowledgePath string `yaml:"knowledge_path"`
}

// SummarizerConfig configures the knowledge base summary.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// AWSConfig selects region and credentials. The *_env fields name
// environment variables holding static keys; unset, the SDK default chain
// is used.
type AWSConfig struct {
	Region             string `yaml:"region"`
	Profile            string `yaml:"profile"`
	AccessKeyIDEnv     string `yaml:"access_key_id_env"`
	SecretAccessKeyEnv string `yaml:"secret_access_key_env"`
	SessionTokenEnv    string `yaml:"session_token_env,omitempty"`
}

type GeminiConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker      ChunkerConfig      `yaml:"chunker"`
	Embedder     EmbedderConfig     `yaml:"embedder"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store"`
	Generator    GeneratorConfig    `yaml:"generator"`
	Conversation ConversationConfig `yaml:"conversation"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Summarizer   SummarizerConfig   `yaml:"summarizer"`
	AWS          AWSConfig          `yaml:"aws"`
	Gemini       GeminiConfig       `yaml:"gemini"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfiguration, path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/healthai/config.yaml.
// If neither exists, it writes defaults to ~/.config/healthai/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfiguration}, args...)...)
	}
	if c.Chunker.MaxSize <= 0 || c.Chunker.OverlapSize <= 0 || c.Chunker.OverlapSize >= c.Chunker.MaxSize {
		return invalid("chunker needs 0 < overlap_size (%d) < max_size (%d)", c.Chunker.OverlapSize, c.Chunker.MaxSize)
	}
	if !oneOf(c.Embedder.Type, "local", "openai", "bedrock", "gemini") {
		return invalid("unknown embedder %q", c.Embedder.Type)
	}
	if c.Embedder.Dimension < 0 || c.Embedder.RequestsPerSecond < 0 {
		return invalid("embedder dimension and requests_per_second must not be negative")
	}
	switch c.VectorStore.Type {
	case "memory", "sqlite":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return invalid("qdrant vector store needs vector_store.qdrant.url")
		}
	case "postgres":
		if c.VectorStore.Postgres == nil || c.VectorStore.Postgres.DSN == "" {
			return invalid("postgres vector store needs vector_store.postgres.dsn or DATABASE_URL")
		}
	default:
		return invalid("unknown vector store %q", c.VectorStore.Type)
	}
	if c.VectorStore.Collection == "" {
		return invalid("vector_store.collection is empty")
	}
	if !oneOf(c.Generator.Type, "extractive", "bedrock", "gemini", "openai") {
		return invalid("unknown generator %q", c.Generator.Type)
	}
	if !oneOf(strings.ToLower(c.Generator.PromptStyle), "default", "detailed", "concise") {
		return invalid("unknown prompt style %q", c.Generator.PromptStyle)
	}
	if c.Generator.ContextLimit <= 0 || c.Generator.MaxTokens <= 0 {
		return invalid("generator context_limit and max_tokens must be positive")
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		return invalid("generator temperature %v outside [0,2]", c.Generator.Temperature)
	}
	if c.Conversation.TopK <= 0 {
		return invalid("conversation.top_k must be positive, got %d", c.Conversation.TopK)
	}
	if c.Conversation.HistoryMaxTurns < 0 || c.Conversation.MaxQueryChars < 0 {
		return invalid("conversation history_max_turns and max_query_chars must not be negative")
	}
	if c.Ingest.BatchSize <= 0 || c.Ingest.Concurrency <= 0 || c.Ingest.RetryAttempts <= 0 {
		return invalid("ingest batch_size, concurrency and retry_attempts must be positive")
	}
	return nil
}

func (c EmbedderConfig) Timeout() time.Duration  { return seconds(c.TimeoutSecs) }
func (c GeneratorConfig) Timeout() time.Duration { return seconds(c.TimeoutSecs) }
func (c QdrantConfig) Timeout() time.Duration    { return seconds(c.TimeoutSecs) }

func (c ConversationConfig) QueryTimeout() time.Duration { return seconds(c.QueryTimeoutSecs) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "healthai", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Chunker:  ChunkerConfig{MaxSize: 500, OverlapSize: 50},
		Embedder: EmbedderConfig{Type: "local", TimeoutSecs: 30},
		VectorStore: VectorStoreConfig{
			Type:       "memory",
			Collection: "healthai-knowledge-v1",
		},
		Generator: GeneratorConfig{
			Type:         "extractive",
			ContextLimit: 12000,
			PromptStyle:  "default",
			MaxTokens:    1024,
			Temperature:  0.7,
			TimeoutSecs:  60,
		},
		Conversation: ConversationConfig{TopK: 3, HistoryMaxTurns: 5, MaxQueryChars: 2000, QueryTimeoutSecs: 10},
		Ingest:       IngestConfig{BatchSize: 16, Concurrency: 4, RetryAttempts: 3, KnowledgePath: "knowledge_base"},
		Summarizer:   SummarizerConfig{Type: "frequency", MaxSentences: 5},
		AWS:          AWSConfig{Region: "us-east-1"},
		Gemini:       GeminiConfig{APIKeyEnv: "GEMINI_API_KEY"},
	}
	return cfg
}

// applyEnv lets the environment override the file, using the variable names
// the deployment scripts already export.
func applyEnv(cfg *AppConfig) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", domain.ErrInvalidConfiguration, name, v)
		}
		*dst = n
		return nil
	}

	str("HEALTHAI_EMBEDDER", &cfg.Embedder.Type)
	str("HEALTHAI_EMBEDDING_MODEL", &cfg.Embedder.Model)
	str("HEALTHAI_VECTOR_STORE", &cfg.VectorStore.Type)
	str("HEALTHAI_GENERATOR", &cfg.Generator.Type)
	str("HEALTHAI_PROMPT_STYLE", &cfg.Generator.PromptStyle)
	str("KNOWLEDGE_INDEX_NAME", &cfg.VectorStore.Collection)
	str("KNOWLEDGE_PATH", &cfg.Ingest.KnowledgePath)
	str("AWS_REGION", &cfg.AWS.Region)
	str("AWS_PROFILE", &cfg.AWS.Profile)
	if cfg.Generator.Type == "bedrock" {
		str("BEDROCK_MODEL", &cfg.Generator.Model)
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" && cfg.VectorStore.Type == "postgres" {
		if cfg.VectorStore.Postgres == nil {
			cfg.VectorStore.Postgres = &PostgresConfig{}
		}
		if cfg.VectorStore.Postgres.DSN == "" {
			cfg.VectorStore.Postgres.DSN = v
		}
	}
	if v, ok := os.LookupEnv("QDRANT_URL"); ok && v != "" && cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		cfg.VectorStore.Qdrant.URL = v
	}

	for name, dst := range map[string]*int{
		"HEALTHAI_TOP_K":             &cfg.Conversation.TopK,
		"HEALTHAI_HISTORY_MAX_TURNS": &cfg.Conversation.HistoryMaxTurns,
		"HEALTHAI_CONTEXT_LIMIT":     &cfg.Generator.ContextLimit,
		"HEALTHAI_CHUNK_MAX_SIZE":    &cfg.Chunker.MaxSize,
		"HEALTHAI_CHUNK_OVERLAP":     &cfg.Chunker.OverlapSize,
		"LLM_MAX_TOKENS":             &cfg.Generator.MaxTokens,
	} {
		if err := integer(name, dst); err != nil {
			return err
		}
	}
	if v, ok := os.LookupEnv("LLM_TEMPERATURE"); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: LLM_TEMPERATURE=%q is not a number", domain.ErrInvalidConfiguration, v)
		}
		cfg.Generator.Temperature = t
	}
	return nil
}

// applyConfigDefaults fills settings a partial file left at zero.
func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.MaxSize == 0 {
		cfg.Chunker.MaxSize = 500
	}
	if cfg.Chunker.OverlapSize == 0 {
		cfg.Chunker.OverlapSize = 50
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "local"
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "extractive"
	}
	if cfg.Generator.PromptStyle == "" {
		cfg.Generator.PromptStyle = "default"
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 5
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Embedder.OpenAI)
	}
	if cfg.Generator.Type == "openai" {
		if cfg.Generator.OpenAI == nil {
			cfg.Generator.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Generator.OpenAI)
	}
	if cfg.VectorStore.Type == "sqlite" {
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = "healthai.db"
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil && cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
		cfg.VectorStore.Qdrant.TimeoutSecs = 15
	}
}

func openAIDefaults(c *OpenAIConfig) {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
}
