package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadpilot/mailer"
	"leadpilot/models"
	"leadpilot/reply"
	"leadpilot/schedule"
)

var AppConfig Config

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// SequencingConfig tunes the batch pass and the background workers.
type SequencingConfig struct {
	BatchSize         int                    `yaml:"batch_size"`
	SendRatePerSecond float64                `yaml:"send_rate_per_second"`
	LockTTL           time.Duration          `yaml:"lock_ttl"`
	SequenceInterval  time.Duration          `yaml:"sequence_interval"`
	DispatchInterval  time.Duration          `yaml:"dispatch_interval"`
	ReplyPollInterval time.Duration          `yaml:"reply_poll_interval"`
	MessageDomain     string                 `yaml:"message_domain"`
	DefaultWindow     schedule.SendingWindow `yaml:"default_window"`
}

type Config struct {
	// InMemory swaps postgres for the in-process store (development only)
	InMemory       bool
	Environment    string
	ServerPort     string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBMaxIdleConns int
	DBMaxOpenConns int

	JWTSecret            string
	UnipileWebhookSecret string
	// TrackingBaseURL enables the open pixel; it is the public origin of this server
	TrackingBaseURL string
	TrackingSecret  string
	CORSOrigins     []string
	RateLimitMax    int

	LogLevel  string
	LogFormat string
	SentryDSN string
	Release   string

	Redis      RedisConfig
	SMTP       mailer.SMTPConfig
	IMAP       reply.IMAPConfig
	Sequencing SequencingConfig
}

type fileConfig struct {
	Sequencing SequencingConfig `yaml:"sequencing"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

// LoadConfig reads the environment (and CONFIG_FILE, when set) into AppConfig.
func LoadConfig() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	logConfig(cfg)
	return nil
}

func Load() (Config, error) {
	window := schedule.DefaultWindow()
	cfg := Config{
		InMemory:       getEnvAsBool("IN_MEMORY", false),
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadpilot"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		UnipileWebhookSecret: getEnv("UNIPILE_WEBHOOK_SECRET", ""),
		TrackingBaseURL:      getEnv("TRACKING_BASE_URL", ""),
		TrackingSecret:       getEnv("TRACKING_SECRET", ""),
		CORSOrigins:          getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		RateLimitMax:         getEnvAsInt("RATE_LIMIT_MAX", 60),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		SentryDSN: getEnv("SENTRY_DSN", ""),
		Release:   getEnv("RELEASE", ""),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: mailer.SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvAsInt("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			FromEmail: getEnv("SMTP_FROM_EMAIL", ""),
			FromName:  getEnv("SMTP_FROM_NAME", ""),
		},
		IMAP: reply.IMAPConfig{
			Host:       getEnv("IMAP_HOST", ""),
			Port:       getEnvAsInt("IMAP_PORT", 993),
			Username:   getEnv("IMAP_USERNAME", ""),
			Password:   getEnv("IMAP_PASSWORD", ""),
			Encryption: getEnv("IMAP_ENCRYPTION", "SSL"),
			Mailbox:    getEnv("IMAP_MAILBOX", "INBOX"),
		},
		Sequencing: SequencingConfig{
			BatchSize:         getEnvAsInt("BATCH_SIZE", 50),
			SendRatePerSecond: getEnvAsFloat("SEND_RATE_PER_SECOND", 10),
			LockTTL:           getEnvAsDuration("LEAD_LOCK_TTL", 2*time.Minute),
			SequenceInterval:  getEnvAsDuration("SEQUENCE_POLL_INTERVAL", 5*time.Minute),
			DispatchInterval:  getEnvAsDuration("DISPATCH_INTERVAL", 30*time.Second),
			ReplyPollInterval: getEnvAsDuration("REPLY_POLL_INTERVAL", 5*time.Minute),
			MessageDomain:     getEnv("MESSAGE_DOMAIN", "leadpilot.local"),
			DefaultWindow:     window,
		},
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	if cfg.DBPassword == "" && !cfg.InMemory {
		return cfg, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.TrackingSecret == "" {
		cfg.TrackingSecret = cfg.JWTSecret
	}
	if w := cfg.Sequencing.DefaultWindow; w.EndHour <= w.StartHour {
		return cfg, fmt.Errorf("sequencing.default_window: end_hour must be after start_hour")
	}
	if cfg.Sequencing.BatchSize <= 0 {
		return cfg, fmt.Errorf("sequencing.batch_size must be positive")
	}
	seq := cfg.Sequencing
	if seq.SequenceInterval <= 0 || seq.DispatchInterval <= 0 || seq.ReplyPollInterval <= 0 {
		return cfg, fmt.Errorf("sequencing intervals must be positive")
	}
	return cfg, nil
}

// applyFile overlays the YAML sequencing block onto cfg. Keys missing from
// the file keep their environment values.
func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	file := fileConfig{Sequencing: cfg.Sequencing}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Sequencing = file.Sequencing
	return nil
}

// ConnectDB opens postgres, applies pool limits and migrates every model.
func ConnectDB(cfg Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	gormLogger := logger.Default.LogMode(logger.Warn)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return db, nil
}

// NewRedisClient returns nil when redis is disabled.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig(cfg Config) {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Server Port: %s", cfg.ServerPort)
	log.Printf("Database: %s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	log.Printf("Redis: %t, SMTP dispatch: %t, IMAP replies: %t",
		cfg.Redis.Enabled, cfg.SMTP.Enabled(), cfg.IMAP.Enabled())
	log.Printf("Sequencing: batch=%d rate=%.1f/s interval=%s",
		cfg.Sequencing.BatchSize, cfg.Sequencing.SendRatePerSecond, cfg.Sequencing.SequenceInterval)
}
