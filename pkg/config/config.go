package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	Env  string
	Port int

	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	Ingest    IngestConfig
	Proposals ProposalsConfig
	Discord   DiscordConfig
	Delivery  DeliveryConfig
}

type DatabaseConfig struct {
	Driver       string
	Path         string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// IngestConfig points at the external course ingestion service.
type IngestConfig struct {
	BaseURL    string
	Token      string
	Resource   string
	Timeout    time.Duration
	AutoIngest bool
}

// ProposalsConfig governs the review workflow.
type ProposalsConfig struct {
	TTL           time.Duration
	AllowedActors []string
	SweepInterval time.Duration
	IngestLease   time.Duration
}

// DiscordConfig enables the Discord review channel.
type DiscordConfig struct {
	Enabled       bool
	Token         string
	ReviewChannel string
}

// DeliveryConfig sizes the instruction delivery worker pool.
type DeliveryConfig struct {
	Workers    int
	BufferSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Path:         v.GetString("DB_PATH"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Ingest = IngestConfig{
		BaseURL:    strings.TrimRight(v.GetString("COURSE_INGEST_URL"), "/"),
		Token:      v.GetString("COURSE_INGEST_TOKEN"),
		Resource:   v.GetString("COURSE_INGEST_RESOURCE"),
		Timeout:    parseDuration(v.GetString("COURSE_INGEST_TIMEOUT"), 30*time.Second),
		AutoIngest: v.GetBool("AUTO_INGEST"),
	}

	cfg.Proposals = ProposalsConfig{
		TTL:           parseDuration(v.GetString("PROPOSAL_TTL"), 48*time.Hour),
		AllowedActors: splitAndTrim(v.GetString("PROPOSAL_ALLOWED_ACTORS")),
		SweepInterval: parseDuration(v.GetString("PROPOSAL_SWEEP_INTERVAL"), 15*time.Minute),
		IngestLease:   parseDuration(v.GetString("PROPOSAL_INGEST_LEASE"), 45*time.Second),
	}

	cfg.Discord = DiscordConfig{
		Enabled:       v.GetBool("DISCORD_ENABLED"),
		Token:         v.GetString("DISCORD_TOKEN"),
		ReviewChannel: v.GetString("DISCORD_REVIEW_CHANNEL"),
	}

	cfg.Delivery = DeliveryConfig{
		Workers:    v.GetInt("DELIVERY_WORKERS"),
		BufferSize: v.GetInt("DELIVERY_BUFFER_SIZE"),
	}

	return cfg, nil
}

// Validate reports configuration that cannot produce a working service.
func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			problems = append(problems, "DB_PATH is required for sqlite3")
		}
	case DriverPostgres:
	default:
		problems = append(problems, fmt.Sprintf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	if c.Ingest.BaseURL == "" {
		problems = append(problems, "COURSE_INGEST_URL is required")
	}
	if c.Ingest.Token == "" {
		problems = append(problems, "COURSE_INGEST_TOKEN is required")
	}
	if c.Proposals.TTL <= 0 {
		problems = append(problems, "PROPOSAL_TTL must be positive")
	}
	if c.Discord.Enabled && (c.Discord.Token == "" || c.Discord.ReviewChannel == "") {
		problems = append(problems, "DISCORD_TOKEN and DISCORD_REVIEW_CHANNEL are required when DISCORD_ENABLED")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "./data/course_proposals.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "course_proposals")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("COURSE_INGEST_URL", "http://localhost:8088")
	v.SetDefault("COURSE_INGEST_TOKEN", "")
	v.SetDefault("COURSE_INGEST_RESOURCE", "courses")
	v.SetDefault("COURSE_INGEST_TIMEOUT", "30s")
	v.SetDefault("AUTO_INGEST", false)

	v.SetDefault("PROPOSAL_TTL", "48h")
	v.SetDefault("PROPOSAL_ALLOWED_ACTORS", "")
	v.SetDefault("PROPOSAL_SWEEP_INTERVAL", "15m")
	v.SetDefault("PROPOSAL_INGEST_LEASE", "45s")

	v.SetDefault("DISCORD_ENABLED", false)
	v.SetDefault("DISCORD_TOKEN", "")
	v.SetDefault("DISCORD_REVIEW_CHANNEL", "")

	v.SetDefault("DELIVERY_WORKERS", 1)
	v.SetDefault("DELIVERY_BUFFER_SIZE", 32)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
