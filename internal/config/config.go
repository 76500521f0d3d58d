package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	StoreDriver   string // postgres | memory
	DirectoryFile string // static family directory, used with the memory store
	JWTSecret     string
	ServiceAPIKey string
	ServerPort    string
	NATSURL       string // empty = single instance, no relay

	TasksAPIURL   string
	TasksAPIToken string

	TelegramBotToken string

	ReportS3Bucket   string
	ReportS3Prefix   string
	ReportS3Region   string
	ReportS3Endpoint string

	CacheTTL         time.Duration
	HeartbeatTimeout time.Duration
	PingPeriod       time.Duration
	SendQueueSize    int
}

func Load() (*Config, error) {
	c := &Config{
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "postgres"),
		DBName:           getEnv("DB_NAME", "familyplanner"),
		StoreDriver:      getEnv("STORE_DRIVER", "postgres"),
		DirectoryFile:    getEnv("DIRECTORY_FILE", ""),
		JWTSecret:        getEnv("JWT_SECRET", "super-secret-key-change-me"),
		ServiceAPIKey:    getEnv("SERVICE_API_KEY", "service-api-key-change-me"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		NATSURL:          getEnv("NATS_URL", ""),
		TasksAPIURL:      getEnv("TASKS_API_URL", ""),
		TasksAPIToken:    getEnv("TASKS_API_TOKEN", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		ReportS3Bucket:   getEnv("REPORT_S3_BUCKET", ""),
		ReportS3Prefix:   getEnv("REPORT_S3_PREFIX", "planning-reports"),
		ReportS3Region:   getEnv("REPORT_S3_REGION", "us-east-1"),
		ReportS3Endpoint: getEnv("REPORT_S3_ENDPOINT", ""),
	}

	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver)
	}

	var err error
	if c.CacheTTL, err = getDuration("CACHE_TTL", "2s"); err != nil {
		return nil, err
	}
	if c.HeartbeatTimeout, err = getDuration("HEARTBEAT_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if c.PingPeriod, err = getDuration("PING_PERIOD", "25s"); err != nil {
		return nil, err
	}
	if c.PingPeriod >= c.HeartbeatTimeout {
		return nil, fmt.Errorf("PING_PERIOD (%s) must be shorter than HEARTBEAT_TIMEOUT (%s)", c.PingPeriod, c.HeartbeatTimeout)
	}

	queue, err := strconv.Atoi(getEnv("SEND_QUEUE_SIZE", "64"))
	if err != nil || queue <= 0 {
		return nil, fmt.Errorf("SEND_QUEUE_SIZE: must be a positive integer")
	}
	c.SendQueueSize = queue

	return c, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName,
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
