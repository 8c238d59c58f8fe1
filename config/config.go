package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"medrag/internal/domain"
)

// IndexPathEnv overrides index.path when set.
const IndexPathEnv = "MEDRAG_INDEX_PATH"

// Config holds all configuration for medrag.
type Config struct {
	Corpus     CorpusConfig     `yaml:"corpus"`
	Index      IndexConfig      `yaml:"index"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CorpusConfig describes where the transcription CSVs live.
type CorpusConfig struct {
	Paths    []string `yaml:"paths"`     // doublestar patterns, e.g. "data/**/*.csv"
	Exclude  []string `yaml:"exclude"`   // patterns skipped even when a path matches
	IDColumn string   `yaml:"id_column"` // optional stable ID column; content hash when empty
}

// IndexConfig holds chunking and persistence configuration.
type IndexConfig struct {
	Path         string `yaml:"path"`
	ChunkSize    int    `yaml:"chunk_size"`    // runes
	ChunkOverlap int    `yaml:"chunk_overlap"` // runes
	BatchSize    int    `yaml:"batch_size"`    // entries per index write batch
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK      int           `yaml:"top_k"`
	MinScore  float64       `yaml:"min_score"`  // Filter results below this score (0 = disabled)
	CacheSize int           `yaml:"cache_size"` // 0 disables the retrieval cache
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // "ollama", "openai", "jina", "deepseek", "hash"
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Dimension   int           `yaml:"dimension"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"timeout"`
}

// GenerationConfig holds chat completion configuration.
type GenerationConfig struct {
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PromptConfig holds prompt assembly configuration.
type PromptConfig struct {
	Fallback string `yaml:"fallback"`
}

// ServerConfig holds HTTP query surface configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultFallback is the phrase returned when the context cannot answer a question.
const DefaultFallback = "I cannot find the answer in the provided medical records"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Paths: []string{"data/*.csv"},
		},
		Index: IndexConfig{
			Path:         filepath.Join(".medrag", "index"),
			ChunkSize:    1000,
			ChunkOverlap: 200,
			BatchSize:    256,
		},
		Retrieve: RetrieveConfig{
			TopK:      3,
			CacheSize: 256,
			CacheTTL:  10 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:    "ollama",
			Model:       "all-minilm",
			Dimension:   384,
			BatchSize:   64,
			Concurrency: 4,
			MaxTokens:   512,
			MaxRetries:  3,
			Timeout:     30 * time.Second,
		},
		Generation: GenerationConfig{
			Model:       "command-r-08-2024",
			BaseURL:     "https://api.cohere.ai/compatibility/v1",
			APIKeyEnv:   "COHERE_API_KEY",
			Temperature: 0.3,
			MaxTokens:   1024,
			MaxRetries:  2,
			Timeout:     60 * time.Second,
		},
		Prompt: PromptConfig{
			Fallback: DefaultFallback,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, domain.NewError(domain.ErrConfig, "read config", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.NewError(domain.ErrConfig, "parse "+path, err)
	}

	return cfg, nil
}

// LoadFromDir loads .env and configuration from a directory (looks for medrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	LoadEnv(dir)

	cfg, err := loadFirst(dir)
	if err != nil {
		return nil, err
	}
	if p := os.Getenv(IndexPathEnv); p != "" {
		cfg.Index.Path = p
	}
	return cfg, nil
}

func loadFirst(dir string) (*Config, error) {
	// Try medrag.yaml in the directory
	path := filepath.Join(dir, "medrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	// Try .medrag/config.yaml
	path = filepath.Join(dir, ".medrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// LoadEnv loads dir/.env into the process environment. Variables already set win.
func LoadEnv(dir string) {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return domain.NewError(domain.ErrConfig, "marshal config", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return domain.NewError(domain.ErrConfig, "write config", err)
	}
	return nil
}

// WriteDefault writes the default configuration to dir/medrag.yaml and
// returns its path. An existing file is kept unless force is set.
func WriteDefault(dir string, force bool) (string, error) {
	path := filepath.Join(dir, "medrag.yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return path, domain.NewError(domain.ErrConfig, "write default config",
			fmt.Errorf("%s already exists", path))
	}
	return path, DefaultConfig().Save(path)
}

// ResolveIndexPath returns index.path, relative paths resolved against dir.
func (c *Config) ResolveIndexPath(dir string) string {
	if filepath.IsAbs(c.Index.Path) {
		return c.Index.Path
	}
	return filepath.Join(dir, c.Index.Path)
}

// ValidateBuild checks the settings the build phase depends on.
func (c *Config) ValidateBuild() error {
	var problems []string
	if len(c.Corpus.Paths) == 0 {
		problems = append(problems, "corpus.paths is empty")
	}
	problems = append(problems, c.validateCommon()...)
	if c.Index.ChunkSize <= 0 {
		problems = append(problems, "index.chunk_size must be positive")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		problems = append(problems, "index.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Embedding.BatchSize <= 0 {
		problems = append(problems, "embedding.batch_size must be positive")
	}
	return problemsErr("validate build config", problems)
}

// ValidateQuery checks the settings the query phase depends on, including
// the generator credential.
func (c *Config) ValidateQuery() error {
	problems := c.retrieveProblems()
	if c.Generation.Model == "" {
		problems = append(problems, "generation.model is empty")
	}
	if c.Generation.APIKeyEnv == "" {
		problems = append(problems, "generation.api_key_env is empty")
	} else if os.Getenv(c.Generation.APIKeyEnv) == "" {
		problems = append(problems, fmt.Sprintf("environment variable %s is not set", c.Generation.APIKeyEnv))
	}
	return problemsErr("validate query config", problems)
}

// ValidateRetrieve checks the settings needed to load the index and retrieve
// context without generating.
func (c *Config) ValidateRetrieve() error {
	return problemsErr("validate retrieve config", c.retrieveProblems())
}

func (c *Config) retrieveProblems() []string {
	problems := c.validateCommon()
	if c.Retrieve.TopK <= 0 {
		problems = append(problems, "retrieve.top_k must be positive")
	}
	return problems
}

func (c *Config) validateCommon() []string {
	var problems []string
	if strings.TrimSpace(c.Index.Path) == "" {
		problems = append(problems, "index.path is empty")
	}
	if c.Embedding.Provider == "" {
		problems = append(problems, "embedding.provider is empty")
	}
	if c.Embedding.Dimension <= 0 {
		problems = append(problems, "embedding.dimension must be positive")
	}
	return problems
}

func problemsErr(op string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return domain.NewError(domain.ErrConfig, op, fmt.Errorf("%s", strings.Join(problems, "; ")))
}

// EnsureDir ensures the .medrag directory exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".medrag"), 0755)
}
