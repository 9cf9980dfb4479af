// Package config loads service configuration from defaults, an optional .env
// file, an optional YAML file and MODELFORGE_* environment variables, in that
// order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envconfigPrefix = "MODELFORGE"

// DefaultEnvFile is read when present; its variables never override the real environment.
const DefaultEnvFile = ".env"

type Config struct {
	Server       ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Storage      StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Scheduler    SchedulerConfig `yaml:"scheduler" envconfig:"SCHEDULER"`
	PipelineFile string          `yaml:"pipeline_file" envconfig:"PIPELINE_FILE"`
	Security     SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Redis        RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Log          LogConfig       `yaml:"log" envconfig:"LOG"`
}

type ServerConfig struct {
	Port               int           `yaml:"port" envconfig:"PORT"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" envconfig:"CORS_ALLOWED_ORIGINS"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

type StorageConfig struct {
	// Driver is "fs" or "sqlite". Progress logs live on disk with either.
	Driver     string `yaml:"driver" envconfig:"DRIVER"`
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR"`
	SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
}

type SchedulerConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" envconfig:"MAX_CONCURRENT"`
	StageTimeout  time.Duration `yaml:"stage_timeout" envconfig:"STAGE_TIMEOUT"`
}

type SecurityConfig struct {
	SignArtifacts bool   `yaml:"sign_artifacts" envconfig:"SIGN_ARTIFACTS"`
	KeyDir        string `yaml:"key_dir" envconfig:"KEY_DIR"`
}

// RedisConfig enables status mirroring when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr" envconfig:"ADDR"`
	DB        int           `yaml:"db" envconfig:"DB"`
	KeyPrefix string        `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" envconfig:"TTL"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:               8000,
			CORSAllowedOrigins: []string{"*"},
			ShutdownTimeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:  "fs",
			DataDir: "data",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: 4,
			StageTimeout:  5 * time.Minute,
		},
		Security: SecurityConfig{
			SignArtifacts: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "modelforge:",
			TTL:       time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path is an optional YAML file; envFiles are
// optional dotenv files, DefaultEnvFile when none are given. Missing dotenv
// files are skipped, a missing YAML file is an error.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return cfg, fmt.Errorf("load env file %s: %w", f, err)
		}
		slog.Debug("loaded env file", "path", f)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envconfigPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("read configuration from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	switch c.Storage.Driver {
	case "fs", "sqlite":
	default:
		return fmt.Errorf("storage.driver %q must be fs or sqlite", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return errors.New("scheduler.max_concurrent must be positive")
	}
	if c.Scheduler.StageTimeout <= 0 {
		return errors.New("scheduler.stage_timeout must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// SQLitePath defaults to modelforge.db inside the data directory.
func (c Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.Storage.DataDir, "modelforge.db")
}

// KeyDir defaults to keys/ inside the data directory.
func (c Config) KeyDir() string {
	if c.Security.KeyDir != "" {
		return c.Security.KeyDir
	}
	return filepath.Join(c.Storage.DataDir, "keys")
}

func (c Config) DatasetDir() string {
	return filepath.Join(c.Storage.DataDir, "datasets")
}

// ParseLevel maps a log.level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q must be debug, info, warn or error", s)
}
