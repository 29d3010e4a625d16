package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/gkobilansky/form-goat/internal/allocation"
)

const (
	DefaultDBPath        = "form-goat.db"
	DefaultPort          = 8080
	DefaultSweepInterval = time.Hour
	DefaultAssignmentTTL = 30 * 24 * time.Hour
	DefaultVisitorCookie = "fg_vid"
	DefaultVisitorTTL    = 365 * 24 * time.Hour
)

// Config is the runtime configuration of fgoat. Values come from the
// defaults, then an optional YAML or TOML file, then FG_* environment
// variables.
type Config struct {
	DBPath        string        `yaml:"db_path" toml:"db_path"`
	Port          int           `yaml:"port" toml:"port"`
	SweepInterval time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	AssignmentTTL time.Duration `yaml:"assignment_ttl" toml:"assignment_ttl"`
	VisitorCookie string        `yaml:"visitor_cookie" toml:"visitor_cookie"`
	VisitorTTL    time.Duration `yaml:"visitor_ttl" toml:"visitor_ttl"`
	BanditSampler string        `yaml:"bandit_sampler" toml:"bandit_sampler"`
	LogLevel      string        `yaml:"log_level" toml:"log_level"`
	AdminToken    string        `yaml:"admin_token" toml:"admin_token"`
}

func Default() Config {
	return Config{
		DBPath:        DefaultDBPath,
		Port:          DefaultPort,
		SweepInterval: DefaultSweepInterval,
		AssignmentTTL: DefaultAssignmentTTL,
		VisitorCookie: DefaultVisitorCookie,
		VisitorTTL:    DefaultVisitorTTL,
		BanditSampler: allocation.SamplerNormal,
		LogLevel:      "info",
	}
}

// Load builds a Config from path (may be empty) and the environment.
// The file format is picked by extension: .yaml/.yml or .toml.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DBPath = getEnvOrDefault("FG_DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnvOrDefault("FG_LOG_LEVEL", cfg.LogLevel)
	cfg.BanditSampler = getEnvOrDefault("FG_BANDIT_SAMPLER", cfg.BanditSampler)
	cfg.AdminToken = getEnvOrDefault("FG_ADMIN_TOKEN", cfg.AdminToken)

	if p := os.Getenv("FG_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid FG_PORT %q: %w", p, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("FG_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FG_SWEEP_INTERVAL %q: %w", v, err)
		}
		cfg.SweepInterval = d
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval))
	}
	if c.AssignmentTTL <= 0 {
		errs = append(errs, fmt.Errorf("assignment_ttl must be positive, got %s", c.AssignmentTTL))
	}
	if c.VisitorTTL <= 0 {
		errs = append(errs, fmt.Errorf("visitor_ttl must be positive, got %s", c.VisitorTTL))
	}
	switch c.BanditSampler {
	case allocation.SamplerNormal, allocation.SamplerBeta:
	default:
		errs = append(errs, fmt.Errorf("unknown bandit_sampler %q", c.BanditSampler))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
	return l, nil
}
