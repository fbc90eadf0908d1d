// Package config centralises configuration parsing for the progress engine.
//
// Values are layered: built-in defaults, then an optional .env file, then an
// optional YAML file named by CONFIG_PATH, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	uberconfig "go.uber.org/config"
)

// Config captures runtime configuration values for the progress engine.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

// StoreConfig selects the persistence backend. Driver is one of memory,
// sqlite, redis or postgres.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	PostgresURL   string `yaml:"postgres_url"`
}

// TrackerConfig tunes the progress tracker. The first coverage window is the
// primary one.
type TrackerConfig struct {
	Timezone        string        `yaml:"timezone"`
	CoverageWindows []int         `yaml:"coverage_windows"`
	WellnessStep    float64       `yaml:"wellness_step"`
	RetentionDays   int           `yaml:"retention_days"`
	SaveTimeout     time.Duration `yaml:"save_timeout"`
	QueueSize       int           `yaml:"queue_size"`
}

// KafkaConfig enables the Kafka bridge and snapshot publisher when Brokers is
// non-empty.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	CompletionsTopic  string        `yaml:"completions_topic"`
	ConsumerGroup     string        `yaml:"consumer_group"`
	SnapshotsTopic    string        `yaml:"snapshots_topic"`
	SchemaRegistryURL string        `yaml:"schema_registry_url"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type SchedulerConfig struct {
	RolloverSpec string `yaml:"rollover_spec"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Defaults returns the configuration used for local development.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			JWTIssuer: "progress-engine",
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			SQLitePath:  "progress.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "progress:",
		},
		Tracker: TrackerConfig{
			Timezone:        "Local",
			CoverageWindows: []int{7, 30},
			WellnessStep:    0.2,
			SaveTimeout:     5 * time.Second,
			QueueSize:       256,
		},
		Kafka: KafkaConfig{
			CompletionsTopic: "progress_completions",
			ConsumerGroup:    "progress-engine",
			SnapshotsTopic:   "progress_snapshots",
			WriteTimeout:     10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			RolloverSpec: "0 0 * * *",
		},
	}
}

// Load reads .env, the optional YAML file and environment variables into a
// Config and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(getEnv("DOTENV_PATH", ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	cfg := Defaults()
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		if err := populateYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.overrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func populateYAML(path string, cfg *Config) error {
	provider, err := uberconfig.NewYAML(
		uberconfig.File(path),
		uberconfig.Expand(os.LookupEnv),
	)
	if err != nil {
		return fmt.Errorf("create config provider: %w", err)
	}
	if err := provider.Get(uberconfig.Root).Populate(cfg); err != nil {
		return fmt.Errorf("populate config: %w", err)
	}
	return nil
}

func (c *Config) overrideFromEnv() {
	c.HTTP.Address = getEnv("HTTP_ADDRESS", c.HTTP.Address)
	c.HTTP.ShutdownTimeout = getDurationEnv("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTIssuer = getEnv("JWT_ISSUER", c.Auth.JWTIssuer)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = getIntEnv("REDIS_DB", c.Store.RedisDB)
	c.Store.RedisPrefix = getEnv("REDIS_PREFIX", c.Store.RedisPrefix)
	c.Store.PostgresURL = getEnv("POSTGRES_URL", c.Store.PostgresURL)

	c.Tracker.Timezone = getEnv("PROGRESS_TIMEZONE", c.Tracker.Timezone)
	if windows, ok := os.LookupEnv("COVERAGE_WINDOWS"); ok && windows != "" {
		if parsed, err := parseInts(splitAndTrim(windows)); err == nil {
			c.Tracker.CoverageWindows = parsed
		}
	}
	c.Tracker.WellnessStep = getFloatEnv("WELLNESS_STEP", c.Tracker.WellnessStep)
	c.Tracker.RetentionDays = getIntEnv("RETENTION_DAYS", c.Tracker.RetentionDays)
	c.Tracker.SaveTimeout = getDurationEnv("SAVE_TIMEOUT", c.Tracker.SaveTimeout)
	c.Tracker.QueueSize = getIntEnv("TRACKER_QUEUE_SIZE", c.Tracker.QueueSize)

	if brokers, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitAndTrim(brokers)
	}
	c.Kafka.CompletionsTopic = getEnv("COMPLETIONS_TOPIC", c.Kafka.CompletionsTopic)
	c.Kafka.ConsumerGroup = getEnv("CONSUMER_GROUP", c.Kafka.ConsumerGroup)
	c.Kafka.SnapshotsTopic = getEnv("SNAPSHOTS_TOPIC", c.Kafka.SnapshotsTopic)
	c.Kafka.SchemaRegistryURL = getEnv("SCHEMA_REGISTRY_URL", c.Kafka.SchemaRegistryURL)
	c.Kafka.WriteTimeout = getDurationEnv("KAFKA_WRITE_TIMEOUT", c.Kafka.WriteTimeout)

	c.Scheduler.RolloverSpec = getEnv("ROLLOVER_SPEC", c.Scheduler.RolloverSpec)
}

// Validate rejects configurations the engine cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Store.Driver) {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Tracker.CoverageWindows) == 0 {
		errs = append(errs, errors.New("tracker.coverage_windows must not be empty"))
	}
	longest := 0
	for _, w := range c.Tracker.CoverageWindows {
		if w <= 0 {
			errs = append(errs, fmt.Errorf("tracker.coverage_windows: window %d must be positive", w))
		}
		longest = max(longest, w)
	}
	if c.Tracker.WellnessStep <= 0 || c.Tracker.WellnessStep > 1 {
		errs = append(errs, fmt.Errorf("tracker.wellness_step %v must be in (0, 1]", c.Tracker.WellnessStep))
	}
	if c.Tracker.RetentionDays < 0 {
		errs = append(errs, errors.New("tracker.retention_days must not be negative"))
	} else if c.Tracker.RetentionDays > 0 && c.Tracker.RetentionDays < max(longest, 7) {
		errs = append(errs, fmt.Errorf("tracker.retention_days %d is shorter than the %d days the rollups read", c.Tracker.RetentionDays, max(longest, 7)))
	}
	if c.Tracker.QueueSize <= 0 {
		errs = append(errs, errors.New("tracker.queue_size must be positive"))
	}

	if c.Kafka.Enabled() {
		if c.Kafka.CompletionsTopic == "" && c.Kafka.SnapshotsTopic == "" {
			errs = append(errs, errors.New("kafka: at least one of completions_topic or snapshots_topic is required"))
		}
		if c.Kafka.CompletionsTopic != "" && c.Kafka.ConsumerGroup == "" {
			errs = append(errs, errors.New("kafka.consumer_group is required to consume completions"))
		}
	}

	if _, err := cron.ParseStandard(c.Scheduler.RolloverSpec); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.rollover_spec: %w", err))
	}

	return errors.Join(errs...)
}

// Location resolves the tracker timezone. "Local" and "" mean the host zone.
func (c Config) Location() (*time.Location, error) {
	switch c.Tracker.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Tracker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tracker.timezone: %w", err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseInts(values []string) ([]int, error) {
	out := make([]int, 0, len(values))
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
