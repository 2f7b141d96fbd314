package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Intake     IntakeConfig     `yaml:"intake" mapstructure:"intake"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the tracking store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// QueueConfig configures the stage queues.
type QueueConfig struct {
	Driver            string `yaml:"driver" mapstructure:"driver"` // "sql" or "sqs"
	DatabaseURL       string `yaml:"database_url" mapstructure:"database_url"`
	ExtractQueueURL   string `yaml:"extract_queue_url" mapstructure:"extract_queue_url"`
	ExtractDLQURL     string `yaml:"extract_dlq_url" mapstructure:"extract_dlq_url"`
	IntegrateQueueURL string `yaml:"integrate_queue_url" mapstructure:"integrate_queue_url"`
	IntegrateDLQURL   string `yaml:"integrate_dlq_url" mapstructure:"integrate_dlq_url"`
	Region            string `yaml:"region" mapstructure:"region"`
	VisibilitySecs    int    `yaml:"visibility_secs" mapstructure:"visibility_secs"`
	MaxDeliveries     int    `yaml:"max_deliveries" mapstructure:"max_deliveries"`
}

// StorageConfig configures the artifact object store.
type StorageConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"` // "s3" or "fs"
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
	Region  string `yaml:"region" mapstructure:"region"`
	RootDir string `yaml:"root_dir" mapstructure:"root_dir"`
}

// IntakeConfig configures batch admission.
type IntakeConfig struct {
	// DefaultOperator is used when the batch header omits operador and the
	// ingress channel supplies no naming hint.
	DefaultOperator string `yaml:"default_operator" mapstructure:"default_operator"`
}

// ExtractConfig configures the recognition/AI provider.
type ExtractConfig struct {
	Provider       string  `yaml:"provider" mapstructure:"provider"` // "mistral" or "claude"
	MistralKey     string  `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel   string  `yaml:"mistral_model" mapstructure:"mistral_model"`
	AnthropicKey   string  `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	AnthropicModel string  `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// CRMConfig configures the external case-management target.
type CRMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // "creatio" or "salesforce"
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Username    string  `yaml:"username" mapstructure:"username"`
	Password    string  `yaml:"password" mapstructure:"password"`
	ClientID    string  `yaml:"client_id" mapstructure:"client_id"`
	KeyPath     string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL    string  `yaml:"login_url" mapstructure:"login_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// WorkerConfig configures stage worker loops.
type WorkerConfig struct {
	ExtractConcurrency   int `yaml:"extract_concurrency" mapstructure:"extract_concurrency"`
	IntegrateConcurrency int `yaml:"integrate_concurrency" mapstructure:"integrate_concurrency"`
	ReceiveBatch         int `yaml:"receive_batch" mapstructure:"receive_batch"`
	IdleWaitSecs         int `yaml:"idle_wait_secs" mapstructure:"idle_wait_secs"`
}

// ServerConfig configures the HTTP status/ingest server.
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
	v.SetEnvPrefix("OFICIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "oficio.db")
	v.SetDefault("store.max_retries", 3)
	v.SetDefault("queue.driver", "sql")
	v.SetDefault("queue.visibility_secs", 120)
	v.SetDefault("queue.max_deliveries", 3)
	v.SetDefault("storage.driver", "fs")
	v.SetDefault("storage.root_dir", "artifacts")
	v.SetDefault("intake.default_operator", "sistema")
	v.SetDefault("extract.provider", "mistral")
	v.SetDefault("extract.mistral_model", "mistral-large-latest")
	v.SetDefault("extract.anthropic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("extract.timeout_secs", 300)
	v.SetDefault("extract.rate_per_sec", 2)
	v.SetDefault("crm.provider", "creatio")
	v.SetDefault("crm.login_url", "https://login.salesforce.com")
	v.SetDefault("crm.timeout_secs", 30)
	v.SetDefault("crm.rate_per_sec", 5)
	v.SetDefault("worker.extract_concurrency", 4)
	v.SetDefault("worker.integrate_concurrency", 4)
	v.SetDefault("worker.receive_batch", 10)
	v.SetDefault("worker.idle_wait_secs", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
}

// Validate checks the fields required for the given run mode. Modes map to
// commands: "ingest", "worker", "serve", "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	// Bounds that apply to every mode.
	if c.Worker.ExtractConcurrency < 1 || c.Worker.ExtractConcurrency > 64 {
		errs = append(errs, "worker.extract_concurrency must be between 1 and 64")
	}
	if c.Worker.IntegrateConcurrency < 1 || c.Worker.IntegrateConcurrency > 64 {
		errs = append(errs, "worker.integrate_concurrency must be between 1 and 64")
	}
	if c.Queue.MaxDeliveries < 1 {
		errs = append(errs, "queue.max_deliveries must be >= 1")
	}
	if c.Store.MaxRetries < 0 {
		errs = append(errs, "store.max_retries must be >= 0")
	}

	switch mode {
	case "ingest", "migrate":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "worker":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		switch c.Extract.Provider {
		case "mistral":
			if c.Extract.MistralKey == "" {
				errs = append(errs, "extract.mistral_api_key is required")
			}
		case "claude":
			if c.Extract.AnthropicKey == "" {
				errs = append(errs, "extract.anthropic_api_key is required")
			}
		default:
			errs = append(errs, "extract.provider must be mistral or claude")
		}
		switch c.CRM.Provider {
		case "creatio":
			if c.CRM.BaseURL == "" {
				errs = append(errs, "crm.base_url is required")
			}
			if c.CRM.Username == "" || c.CRM.Password == "" {
				errs = append(errs, "crm.username and crm.password are required")
			}
		case "salesforce":
			if c.CRM.Username == "" || c.CRM.ClientID == "" || c.CRM.KeyPath == "" {
				errs = append(errs, "crm.username, crm.client_id and crm.key_path are required")
			}
		default:
			errs = append(errs, "crm.provider must be creatio or salesforce")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
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
