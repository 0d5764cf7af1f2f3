package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddress    string
	MetricsAddress string
	DatabaseURL    string
	SecretKey      string
	SecretKeyBytes []byte
	LogLevel       string

	CatalogDir string
	FleetFile  string
	Master     StoreConfig
	Alerts     StoreConfig

	SchedulerInterval time.Duration
	ApplyTimeout      time.Duration
	AutoApplyInterval time.Duration
	StatusConcurrency int
	BatchConcurrency  int
	BackupCommand     string
	TrustedHeaderAuth bool
	NATS              NATSConfig
}

type StoreConfig struct {
	Engine string
	DSN    string
}

type NATSConfig struct {
	URL     string
	Subject string
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddress:    getEnv("FLEETMIG_HTTP_ADDR", ":8080"),
		MetricsAddress: os.Getenv("FLEETMIG_METRICS_ADDR"),
		LogLevel:       getEnv("FLEETMIG_LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("FLEETMIG_DB_DSN"),
		SecretKey:      os.Getenv("FLEETMIG_SECRET_KEY"),
		CatalogDir:     os.Getenv("FLEETMIG_CATALOG_DIR"),
		FleetFile:      os.Getenv("FLEETMIG_FLEET_FILE"),
		Master: StoreConfig{
			Engine: getEnv("FLEETMIG_MASTER_ENGINE", "postgres"),
			DSN:    os.Getenv("FLEETMIG_MASTER_DSN"),
		},
		Alerts: StoreConfig{
			Engine: getEnv("FLEETMIG_ALERTS_ENGINE", "postgres"),
			DSN:    os.Getenv("FLEETMIG_ALERTS_DSN"),
		},
		BackupCommand:     os.Getenv("FLEETMIG_BACKUP_COMMAND"),
		TrustedHeaderAuth: strings.EqualFold(os.Getenv("FLEETMIG_TRUSTED_HEADER_AUTH"), "true"),
		NATS: NATSConfig{
			URL:     os.Getenv("FLEETMIG_NATS_URL"),
			Subject: getEnv("FLEETMIG_NATS_SUBJECT", "fleet.migrations.outcome"),
		},
	}

	var err error
	if cfg.SchedulerInterval, err = getDuration("FLEETMIG_SCHEDULER_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ApplyTimeout, err = getDuration("FLEETMIG_APPLY_TIMEOUT", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.AutoApplyInterval, err = getDuration("FLEETMIG_AUTO_APPLY_INTERVAL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.StatusConcurrency, err = getInt("FLEETMIG_STATUS_CONCURRENCY", 8); err != nil {
		return Config{}, err
	}
	if cfg.BatchConcurrency, err = getInt("FLEETMIG_BATCH_CONCURRENCY", 4); err != nil {
		return Config{}, err
	}

	if cfg.SecretKey != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(cfg.SecretKey)
		if err != nil {
			return Config{}, errors.New("FLEETMIG_SECRET_KEY must be base64")
		}
		cfg.SecretKeyBytes = keyBytes
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("FLEETMIG_DB_DSN is required")
	}
	if c.CatalogDir == "" {
		return errors.New("FLEETMIG_CATALOG_DIR is required")
	}
	if c.FleetFile == "" && (c.SecretKey == "" || len(c.SecretKeyBytes) < 32) {
		return errors.New("FLEETMIG_SECRET_KEY is required (base64, >=32 bytes) when tenants come from the database")
	}
	if c.SecretKey != "" && len(c.SecretKeyBytes) < 32 {
		return errors.New("FLEETMIG_SECRET_KEY must decode to at least 32 bytes")
	}
	if c.FleetFile == "" {
		if c.Master.DSN == "" {
			return errors.New("FLEETMIG_MASTER_DSN is required")
		}
		if c.Alerts.DSN == "" {
			return errors.New("FLEETMIG_ALERTS_DSN is required")
		}
	}
	if c.SchedulerInterval <= 0 || c.ApplyTimeout <= 0 || c.AutoApplyInterval <= 0 {
		return errors.New("FLEETMIG_* intervals and timeouts must be positive")
	}
	if c.StatusConcurrency < 1 || c.BatchConcurrency < 1 {
		return errors.New("FLEETMIG_STATUS_CONCURRENCY and FLEETMIG_BATCH_CONCURRENCY must be at least 1")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
