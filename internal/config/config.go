package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

type Configuration struct {
	Server     ServerConfig     `json:"server" toml:"server"`
	Security   SecurityConfig   `json:"security" toml:"security"`
	Logging    LoggingConfig    `json:"logging" toml:"logging"`
	Key        KeyConfig        `json:"key" toml:"key"`
	Database   DatabaseConfig   `json:"database" toml:"database"`
	Federation FederationConfig `json:"federation" toml:"federation"`
	Archive    ArchiveConfig    `json:"archive" toml:"archive"`
	Seed       SeedConfig       `json:"seed" toml:"seed"`
}

// Duration accepts "30s" style strings in both JSON and TOML files.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		d.Duration = time.Duration(v)
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	}
	return fmt.Errorf("invalid duration %s", string(b))
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type ServerConfig struct {
	Port         string   `json:"port" toml:"port"`
	ReadTimeout  Duration `json:"read_timeout" toml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" toml:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout" toml:"idle_timeout"`
	// PublicURL is how peers reach this deployment; informational.
	PublicURL string `json:"public_url" toml:"public_url"`
}

type SecurityConfig struct {
	SessionTimeout    Duration `json:"session_timeout" toml:"session_timeout"`
	PasswordMinLength int      `json:"password_min_length" toml:"password_min_length"`
	MaxFailedAttempts int      `json:"max_failed_attempts" toml:"max_failed_attempts"`
	AttemptWindow     Duration `json:"attempt_window" toml:"attempt_window"`
	TANLength         int      `json:"tan_length" toml:"tan_length"`
	TANTTL            Duration `json:"tan_ttl" toml:"tan_ttl"`
}

type LoggingConfig struct {
	Level       string `json:"level" toml:"level"`
	Environment string `json:"environment" toml:"environment"`
}

type KeyConfig struct {
	KeyBits int `json:"key_bits" toml:"key_bits"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string `json:"driver" toml:"driver"`
	Host            string `json:"host" toml:"host"`
	Port            string `json:"port" toml:"port"`
	Username        string `json:"username" toml:"username"`
	Password        string `json:"password" toml:"password"`
	Name            string `json:"name" toml:"name"`
	SSLMode         string `json:"ssl_mode" toml:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns" toml:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns" toml:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" toml:"conn_max_lifetime"`
	LogQueries      bool   `json:"log_queries" toml:"log_queries"`
}

type FederationConfig struct {
	RequestTimeout Duration `json:"request_timeout" toml:"request_timeout"`
	MaxBundleBytes int64    `json:"max_bundle_bytes" toml:"max_bundle_bytes"`
}

type ArchiveConfig struct {
	Enabled       bool     `json:"enabled" toml:"enabled"`
	SweepInterval Duration `json:"sweep_interval" toml:"sweep_interval"`
	AgeThreshold  Duration `json:"age_threshold" toml:"age_threshold"`
}

type SeedConfig struct {
	Enabled  bool   `json:"enabled" toml:"enabled"`
	Password string `json:"password" toml:"password"`
}

var (
	config     *Configuration
	configLock sync.RWMutex
)

func defaults() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Port:         "8000",
			ReadTimeout:  Duration{10 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
			IdleTimeout:  Duration{120 * time.Second},
		},
		Security: SecurityConfig{
			SessionTimeout:    Duration{24 * time.Hour},
			PasswordMinLength: 8,
			MaxFailedAttempts: 5,
			AttemptWindow:     Duration{5 * time.Minute},
			TANLength:         6,
			TANTTL:            Duration{15 * time.Minute},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "development",
		},
		Key: KeyConfig{
			KeyBits: 2048,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            "5432",
			Username:        "postgres",
			Password:        "password",
			Name:            "ecmr",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
		},
		Federation: FederationConfig{
			RequestTimeout: Duration{15 * time.Second},
			MaxBundleBytes: 10 << 20,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			SweepInterval: Duration{time.Hour},
			AgeThreshold:  Duration{30 * 24 * time.Hour},
		},
		Seed: SeedConfig{
			Enabled:  true,
			Password: "changeme123",
		},
	}
}

// LoadConfig reads a JSON or TOML file (chosen by extension) on top of the
// defaults, applies environment overrides and installs the result.
func LoadConfig(filePath string) (*Configuration, error) {
	cfg := defaults()

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".toml":
		if _, err := toml.DecodeFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	default:
		file, err := os.Open(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configLock.Lock()
	config = cfg
	configLock.Unlock()
	return cfg, nil
}

func applyEnv(cfg *Configuration) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Logging.Environment = v
	}
}

func (c *Configuration) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Key.KeyBits < 2048 {
		return fmt.Errorf("key_bits must be at least 2048, got %d", c.Key.KeyBits)
	}
	if c.Security.TANLength < 4 {
		return fmt.Errorf("tan_length must be at least 4, got %d", c.Security.TANLength)
	}
	if c.Archive.Enabled && c.Archive.SweepInterval.Duration <= 0 {
		return fmt.Errorf("archive sweep_interval must be positive")
	}
	return nil
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func UpdateConfig(updater func(*Configuration)) {
	configLock.Lock()
	defer configLock.Unlock()
	updater(config)
}

func InitializeDefaultConfig() *Configuration {
	cfg := defaults()
	applyEnv(cfg)

	configLock.Lock()
	defer configLock.Unlock()
	config = cfg
	return config
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	redacted := *config
	redacted.Database.Password = "[REDACTED]"
	redacted.Seed.Password = "[REDACTED]"

	logger.Info("Application configuration",
		zap.String("port", redacted.Server.Port),
		zap.Duration("read_timeout", redacted.Server.ReadTimeout.Duration),
		zap.Duration("write_timeout", redacted.Server.WriteTimeout.Duration),
		zap.Int("key_bits", redacted.Key.KeyBits),
		zap.String("database_driver", redacted.Database.Driver),
		zap.String("database_host", redacted.Database.Host),
		zap.String("database_name", redacted.Database.Name),
		zap.Duration("tan_ttl", redacted.Security.TANTTL.Duration),
		zap.Duration("federation_timeout", redacted.Federation.RequestTimeout.Duration),
		zap.Bool("archive_enabled", redacted.Archive.Enabled),
		zap.Duration("archive_age_threshold", redacted.Archive.AgeThreshold.Duration),
	)
}
