package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// ORCHESTRATOR_DB_HOST.
const EnvPrefix = "ORCHESTRATOR"

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		TLSCertFile  string        `mapstructure:"tls_cert_file"`
		TLSKeyFile   string        `mapstructure:"tls_key_file"`
		// TLSHostnames, when set, lets the server generate a self-signed
		// certificate if TLSCertFile does not exist yet.
		TLSHostnames []string      `mapstructure:"tls_hostnames"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Store struct {
		Driver string `mapstructure:"driver"` // postgres or memory
	} `mapstructure:"store"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Engine     EngineConfig `mapstructure:"engine"`
	Agent      AgentConfig  `mapstructure:"agent"`
	Resilience struct {
		Agent     PolicyConfig `mapstructure:"agent"`
		Condition PolicyConfig `mapstructure:"condition"`
	} `mapstructure:"resilience"`
	Events struct {
		NotifyChannel string `mapstructure:"notify_channel"`
		Log           bool   `mapstructure:"log"`
	} `mapstructure:"events"`
}

// EngineConfig sizes the worker pool and tunes step execution.
type EngineConfig struct {
	Workers              int           `mapstructure:"workers"`
	QueueDepth           int           `mapstructure:"queue_depth"`
	StepTimeout          time.Duration `mapstructure:"step_timeout"`
	RetryMultiplier      float64       `mapstructure:"retry_multiplier"`
	RetryMaxDelay        time.Duration `mapstructure:"retry_max_delay"`
	StoreRetryMaxElapsed time.Duration `mapstructure:"store_retry_max_elapsed"`
	RecoverOnStart       bool          `mapstructure:"recover_on_start"`
}

// AgentConfig points at the agent runtime.
type AgentConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PolicyConfig configures the resilience policies wrapped around one
// capability. Zero values disable the matching policy.
type PolicyConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenInterval     time.Duration `mapstructure:"open_interval"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	MaxConcurrent    int64         `mapstructure:"max_concurrent"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
}

// DSN renders the libpq style connection string for pgx.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.name", "orchestrator")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("store.driver", "postgres")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.workers", 5)
	v.SetDefault("engine.queue_depth", 30)
	v.SetDefault("engine.step_timeout", 30*time.Second)
	v.SetDefault("engine.retry_multiplier", 1.0)
	v.SetDefault("engine.store_retry_max_elapsed", 30*time.Second)
	v.SetDefault("engine.recover_on_start", true)

	v.SetDefault("agent.base_url", "http://localhost:8090")
	v.SetDefault("agent.timeout", 10*time.Second)

	v.SetDefault("resilience.agent.timeout", 10*time.Second)
	v.SetDefault("resilience.agent.failure_threshold", 5)
	v.SetDefault("resilience.agent.success_threshold", 3)
	v.SetDefault("resilience.agent.open_interval", 2*time.Second)
	v.SetDefault("resilience.agent.rate_per_second", 20.0)
	v.SetDefault("resilience.agent.burst", 20)
	v.SetDefault("resilience.agent.max_concurrent", 10)
	v.SetDefault("resilience.agent.max_wait", 500*time.Millisecond)
	v.SetDefault("resilience.condition.timeout", 4*time.Second)

	v.SetDefault("events.notify_channel", "workflow_events")
	v.SetDefault("events.log", true)
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in . and ./config; a missing file is
// not an error when searching.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be >= 1, got %d", c.Engine.Workers)
	}
	if c.Engine.QueueDepth < 0 {
		return fmt.Errorf("engine.queue_depth must be >= 0, got %d", c.Engine.QueueDepth)
	}
	return nil
}
