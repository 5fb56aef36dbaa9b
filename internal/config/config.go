package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CONSULT_DATABASE_HOST.
const EnvPrefix = "CONSULT"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Lock        LockConfig        `mapstructure:"lock"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	Events      EventsConfig      `mapstructure:"events"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	ReadTimeout    time.Duration   `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout   time.Duration   `mapstructure:"write_timeout" split_words:"true"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout" split_words:"true"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit" split_words:"true"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" split_words:"true"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
}

type LockConfig struct {
	// Driver is "memory" or "redis".
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
	// Wait bounds how long a settlement waits to re-take the case lease.
	Wait time.Duration `mapstructure:"wait"`
}

type PaymentConfig struct {
	BaseURL string        `mapstructure:"base_url" split_words:"true"`
	APIKey  string        `mapstructure:"api_key" split_words:"true"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures" split_words:"true"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout" split_words:"true"`
}

type BrokerConfig struct {
	// Driver is "redis", "kafka" or "sqs".
	Driver       string   `mapstructure:"driver"`
	KafkaBrokers []string `mapstructure:"kafka_brokers" split_words:"true"`
	KafkaGroup   string   `mapstructure:"kafka_group" split_words:"true"`
	SQSRegion    string   `mapstructure:"sqs_region" split_words:"true"`
	SQSEndpoint  string   `mapstructure:"sqs_endpoint" split_words:"true"`
}

type EventsConfig struct {
	Topic string `mapstructure:"topic"`
}

type OutboxConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Batch      int           `mapstructure:"batch"`
	MaxRetries int           `mapstructure:"max_retries" split_words:"true"`
	RetryDelay time.Duration `mapstructure:"retry_delay" split_words:"true"`
}

type AuditConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" split_words:"true"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" split_words:"true"`
	Issuer    string `mapstructure:"issuer"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit.rps", 50.0)
	v.SetDefault("server.rate_limit.burst", 100)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "consult")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)

	v.SetDefault("lock.driver", "memory")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.wait", 5*time.Second)

	v.SetDefault("payment.timeout", 10*time.Second)
	v.SetDefault("payment.breaker.consecutive_failures", 5)
	v.SetDefault("payment.breaker.open_timeout", 30*time.Second)

	v.SetDefault("broker.driver", "redis")
	v.SetDefault("broker.kafka_group", "consult-audit")

	v.SetDefault("events.topic", "consult.lifecycle")

	v.SetDefault("outbox.interval", time.Second)
	v.SetDefault("outbox.batch", 100)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.retry_delay", 500*time.Millisecond)

	v.SetDefault("audit.retention", 90*24*time.Hour)
	v.SetDefault("audit.cleanup_interval", time.Hour)

	v.SetDefault("auth.issuer", "consult-lifecycle")

	v.SetDefault("idempotency.ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.namespace", "consult")
}

// Load reads the YAML file at path (or config.yaml in the usual places when
// path is empty), then applies CONSULT_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q must be postgres or memory", c.Database.Driver))
	}
	switch c.Lock.Driver {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("lock.driver %q must be memory or redis", c.Lock.Driver))
	}
	switch c.Broker.Driver {
	case "redis", "sqs":
	case "kafka":
		if len(c.Broker.KafkaBrokers) == 0 {
			problems = append(problems, "broker.kafka_brokers is required for the kafka driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("broker.driver %q must be redis, kafka or sqs", c.Broker.Driver))
	}
	if c.Lock.TTL <= 0 {
		problems = append(problems, "lock.ttl must be positive")
	}
	if c.Outbox.Batch <= 0 || c.Outbox.Interval <= 0 {
		problems = append(problems, "outbox.batch and outbox.interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
