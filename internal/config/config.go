package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"ragchat/internal/domain"
)

// BackendConfig selects the chat backend: echo, llm, rag or order.
type BackendConfig struct {
	Type string `yaml:"type"`
}

// LLMConfig configures the OpenAI-compatible chat completion service.
type LLMConfig struct {
	BaseURL      string `yaml:"base_url,omitempty"`
	APIKeyEnv    string `yaml:"api_key_env"`
	APIKeyFile   string `yaml:"api_key_file,omitempty"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	TimeoutSecs  int    `yaml:"timeout_secs"`

	// MaxRetries of 0 selects the default; a negative value disables retries.
	MaxRetries        int    `yaml:"max_retries"`
	MaxPromptTokens   int    `yaml:"max_prompt_tokens"`
	TokenizerEncoding string `yaml:"tokenizer_encoding"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	APIKeyFile  string `yaml:"api_key_file,omitempty"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// KnowledgeConfig points at the knowledge base file and controls chunking.
type KnowledgeConfig struct {
	Path             string `yaml:"path"`
	ChunkSentences   int    `yaml:"chunk_sentences"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	SummarySentences int    `yaml:"summary_sentences"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// CacheConfig selects where document embeddings are cached. An empty path
// is derived from the knowledge base path.
type CacheConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path,omitempty"`
}

type ReplayConfig struct {
	Alignment   string `yaml:"alignment"`
	FailFast    bool   `yaml:"fail_fast"`
	ArchivePath string `yaml:"archive_path,omitempty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Backend   BackendConfig   `yaml:"backend"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cache     CacheConfig     `yaml:"cache"`
	Replay    ReplayConfig    `yaml:"replay"`
	LogsDir   string          `yaml:"logs_dir"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, domain.E(domain.ErrConfig, "load config", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domain.E(domain.ErrConfig, "load config", errors.Wrapf(err, "parse %s", path))
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./ragchat.yaml first, then ~/.config/ragchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "ragchat.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", domain.E(domain.ErrConfig, "locate config", err)
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.E(domain.ErrIO, "save config", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return domain.E(domain.ErrFormat, "save config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.E(domain.ErrIO, "save config", err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragchat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Backend:  BackendConfig{Type: "echo"},
		Embedder: EmbedderConfig{Type: "tfidf"},
		Cache:    CacheConfig{Type: "file"},
		Replay:   ReplayConfig{Alignment: "lenient"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = "echo"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 30
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 2
	}
	if cfg.LLM.TokenizerEncoding == "" {
		cfg.LLM.TokenizerEncoding = "cl100k_base"
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 2
		}
	}
	if cfg.Knowledge.SummarySentences == 0 {
		cfg.Knowledge.SummarySentences = 3
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "file"
	}
	if cfg.Replay.Alignment == "" {
		cfg.Replay.Alignment = "lenient"
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = "logs"
	}
}

// NeedsLLM reports whether the selected backend calls the completion service.
func (c *AppConfig) NeedsLLM() bool {
	switch c.Backend.Type {
	case "llm", "rag", "order":
		return true
	}
	return false
}

// Validate checks the selections and that every credential the selected
// components need can be resolved. Failures are config errors.
func (c *AppConfig) Validate() error {
	switch c.Backend.Type {
	case "echo", "llm", "rag", "order":
	default:
		return domain.Ef(domain.ErrConfig, "validate config", "unknown backend type %q", c.Backend.Type)
	}
	switch c.Embedder.Type {
	case "tfidf", "openai":
	default:
		return domain.Ef(domain.ErrConfig, "validate config", "unknown embedder type %q", c.Embedder.Type)
	}
	switch c.Cache.Type {
	case "file", "bolt":
	default:
		return domain.Ef(domain.ErrConfig, "validate config", "unknown cache type %q", c.Cache.Type)
	}
	switch strings.ToLower(c.Replay.Alignment) {
	case "lenient", "strict":
	default:
		return domain.Ef(domain.ErrConfig, "validate config", "unknown replay alignment %q", c.Replay.Alignment)
	}
	if c.Retrieval.TopK < 1 {
		return domain.Ef(domain.ErrConfig, "validate config", "retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.NeedsLLM() {
		if _, err := c.LLMKey(); err != nil {
			return err
		}
	}
	if c.Backend.Type == "rag" {
		if c.Knowledge.Path == "" {
			return domain.Ef(domain.ErrConfig, "validate config", "backend rag requires knowledge.path")
		}
		if c.Embedder.Type == "openai" {
			if _, err := c.EmbedderKey(); err != nil {
				return err
			}
		}
	}
	return nil
}

// LLMKey resolves the completion service API key.
func (c *AppConfig) LLMKey() (string, error) {
	return ResolveKey(c.LLM.APIKeyEnv, c.LLM.APIKeyFile)
}

// EmbedderKey resolves the embedding service API key.
func (c *AppConfig) EmbedderKey() (string, error) {
	if c.Embedder.OpenAI == nil {
		return "", domain.Ef(domain.ErrConfig, "resolve key", "openai embedder config missing")
	}
	return ResolveKey(c.Embedder.OpenAI.APIKeyEnv, c.Embedder.OpenAI.APIKeyFile)
}

// ResolveKey reads a key from file when one is named, otherwise from the
// environment variable env.
func ResolveKey(env, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", domain.E(domain.ErrConfig, "resolve key", errors.Wrapf(err, "read key file %s", file))
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", domain.Ef(domain.ErrConfig, "resolve key", "key file %s is empty", file)
		}
		return key, nil
	}
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return "", domain.Ef(domain.ErrConfig, "resolve key", "environment variable %s is not set", env)
	}
	return key, nil
}
