package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable; nested structs group the settings of one
// collaborator (database, redis, broker, push provider, chat model, tracing).
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`    // application environment (dev/test/prod)
	Port     string `env:"APP_PORT" envDefault:"8080"`  // HTTP port to listen on
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"` // zap level name

	JWTSecret    string `env:"JWT_SECRET,required,notEmpty"`         // secret used to sign access tokens
	AccessTTLMin int    `env:"ACCESS_TOKEN_TTL_MIN" envDefault:"60"` // access token lifetime in minutes
	BcryptCost   int    `env:"BCRYPT_COST" envDefault:"12"`          // bcrypt cost factor

	// StoreTimeout bounds every store read/write issued on behalf of a request.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	// SideEffectTimeout bounds audit appends and notification sends that run
	// after a committed write.
	SideEffectTimeout time.Duration `env:"SIDE_EFFECT_TIMEOUT" envDefault:"10s"`
	// AuditPageSize is the default page of the audit viewer.
	AuditPageSize int `env:"AUDIT_PAGE_SIZE" envDefault:"15"`

	DB        DBConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	AMQP      AMQPConfig
	Push      PushConfig
	Chat      ChatConfig
	OTel      OTelConfig
}

// DBConfig selects and addresses the primary store. MySQL is the production
// driver; sqlite is accepted for local runs.
type DBConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"mysql"`
	User   string `env:"DB_USER"`
	Pass   string `env:"DB_PASS"`
	Host   string `env:"DB_HOST"`
	Port   string `env:"DB_PORT" envDefault:"3306"`
	Name   string `env:"DB_NAME"`
	Path   string `env:"DB_PATH" envDefault:"community-gate.db"`
}

// AMQPConfig addresses the broker used for notification jobs. When URL is
// empty notifications are dispatched in-process.
type AMQPConfig struct {
	URL      string `env:"RABBITMQ_URL"`
	AltURL   string `env:"AMQP_URL"`
	Queue    string `env:"NOTIFY_QUEUE" envDefault:"visitor.notifications"`
	Prefetch int    `env:"NOTIFY_PREFETCH" envDefault:"50"`
}

// Enabled reports whether a broker URL is configured.
func (c AMQPConfig) Enabled() bool { return c.URL != "" }

// PushConfig configures Firebase Cloud Messaging (HTTP v1). Without a project
// and credentials file, pushes are only logged.
type PushConfig struct {
	FCMProjectID       string `env:"FCM_PROJECT_ID"`
	FCMCredentialsFile string `env:"FCM_CREDENTIALS_FILE"`
	FCMEndpoint        string `env:"FCM_ENDPOINT" envDefault:"https://fcm.googleapis.com"`
}

// Enabled reports whether FCM delivery is configured.
func (c PushConfig) Enabled() bool {
	return c.FCMProjectID != "" && c.FCMCredentialsFile != ""
}

// ChatConfig configures the completion model behind POST /chat.
type ChatConfig struct {
	APIKey  string        `env:"GENAI_API_KEY"`
	Model   string        `env:"GENAI_MODEL" envDefault:"gemini-2.0-flash"`
	Timeout time.Duration `env:"CHAT_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether a model API key is configured.
func (c ChatConfig) Enabled() bool { return c.APIKey != "" }

// OTelConfig enables OTLP trace export when Endpoint is set.
type OTelConfig struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"true"`
	Endpoint    string `env:"OTEL_EXPORTER_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"community-gate"`
}

// Load reads configuration values from environment variables, applies
// derived defaults and validates cross-field requirements.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	if c.AMQP.URL == "" {
		c.AMQP.URL = c.AMQP.AltURL
	}
	if c.AuditPageSize <= 0 {
		c.AuditPageSize = 15
	}
	c.RateLimit.normalize()
	c.Cache.normalize()
}

// Validate reports configuration that cannot work at runtime.
func (c Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "mysql":
		for key, v := range map[string]string{"DB_USER": c.DB.User, "DB_HOST": c.DB.Host, "DB_NAME": c.DB.Name} {
			if v == "" {
				errs = append(errs, fmt.Errorf("missing required env var: %s", key))
			}
		}
	case "sqlite":
		if c.DB.Path == "" {
			errs = append(errs, errors.New("missing required env var: DB_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST out of range: %d", c.BcryptCost))
	}
	if c.AccessTTLMin <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_TTL_MIN must be positive: %d", c.AccessTTLMin))
	}
	return errors.Join(errs...)
}
