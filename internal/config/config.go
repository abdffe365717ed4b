package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pawpilot/chat-api/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Pinecone  PineconeConfig  `yaml:"pinecone" mapstructure:"pinecone"`
	Retriever RetrieverConfig `yaml:"retriever" mapstructure:"retriever"`
	Prompt    PromptConfig    `yaml:"prompt" mapstructure:"prompt"`
	FineTune  FineTuneConfig  `yaml:"finetune" mapstructure:"finetune"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds completion provider settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseModel string `yaml:"base_model" mapstructure:"base_model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OpenAIConfig holds embedding provider settings.
type OpenAIConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	EmbeddingModel    string  `yaml:"embedding_model" mapstructure:"embedding_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// PineconeConfig holds vector index settings for the pinecone backend.
type PineconeConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	IndexURL string `yaml:"index_url" mapstructure:"index_url"`
}

// RetrieverConfig configures the retrieval stage.
type RetrieverConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "pinecone" or "pgvector"
	TopK    int    `yaml:"top_k" mapstructure:"top_k"`
	Table   string `yaml:"table" mapstructure:"table"` // pgvector passages table
}

// PromptConfig configures prompt template loading.
type PromptConfig struct {
	TemplatePath string `yaml:"template_path" mapstructure:"template_path"`
}

// FineTuneConfig configures the fine-tuning trigger and poller.
type FineTuneConfig struct {
	MinExamples        int     `yaml:"min_examples" mapstructure:"min_examples"`
	MinAvgRating       float64 `yaml:"min_avg_rating" mapstructure:"min_avg_rating"`
	MinExampleRating   int     `yaml:"min_example_rating" mapstructure:"min_example_rating"`
	JobCostUSD         float64 `yaml:"job_cost_usd" mapstructure:"job_cost_usd"`
	MonthlyBudgetUSD   float64 `yaml:"monthly_budget_usd" mapstructure:"monthly_budget_usd"`
	PollIntervalSecs   int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	RunningTimeoutMins int     `yaml:"running_timeout_mins" mapstructure:"running_timeout_mins"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PAWPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "pawpilot.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.base_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.requests_per_second", 10)
	v.SetDefault("retriever.backend", "pinecone")
	v.SetDefault("retriever.top_k", 4)
	v.SetDefault("retriever.table", "passages")
	v.SetDefault("finetune.min_examples", 100)
	v.SetDefault("finetune.min_avg_rating", 4.0)
	v.SetDefault("finetune.min_example_rating", 4)
	v.SetDefault("finetune.job_cost_usd", 25.0)
	v.SetDefault("finetune.monthly_budget_usd", 200.0)
	v.SetDefault("finetune.poll_interval_secs", 60)
	v.SetDefault("finetune.running_timeout_mins", 240)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Pricing.Completion) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
