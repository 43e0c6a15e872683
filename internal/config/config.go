package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/five82/threadline/internal/retry"
)

// Config captures everything threadline needs to reach the feed API.
type Config struct {
	APIURL            string
	Token             string
	TokenFile         string
	StateDir          string
	LogFile           string
	LogLevel          string
	PollInterval      time.Duration
	RequestsPerSecond float64
	MetricsAddr       string
	Retry             retry.Config
}

const (
	defaultConfigPath   = "~/.config/threadline/config.toml"
	defaultAPIURL       = "http://127.0.0.1:8080"
	defaultTokenFile    = "~/.config/threadline/token"
	defaultStateDir     = "~/.local/share/threadline"
	defaultLogFile      = "~/.local/share/threadline/threadline.log"
	defaultLogLevel     = "info"
	defaultPollInterval = 5 * time.Second
	defaultRPS          = 10

	envAPIURL = "THREADLINE_API_URL"
	envToken  = "THREADLINE_TOKEN"
)

type rawRetry struct {
	MaxRetries       *int `toml:"max_retries"`
	InitialBackoffMS int  `toml:"initial_backoff_ms"`
	MaxBackoffMS     int  `toml:"max_backoff_ms"`
}

type rawConfig struct {
	APIURL            string   `toml:"api_url"`
	TokenFile         string   `toml:"token_file"`
	StateDir          string   `toml:"state_dir"`
	LogFile           string   `toml:"log_file"`
	LogLevel          string   `toml:"log_level"`
	PollSeconds       int      `toml:"poll_seconds"`
	RequestsPerSecond *float64 `toml:"requests_per_second"`
	MetricsAddr       string   `toml:"metrics_addr"`
	Retry             rawRetry `toml:"retry"`
}

// Load locates and parses the config, falling back to defaults when missing.
// A .env file next to the config and the process environment override
// api_url and supply the token.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	var raw rawConfig
	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		bytes, err := io.ReadAll(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(bytes, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg := Config{
		APIURL:            orDefault(raw.APIURL, defaultAPIURL),
		TokenFile:         mustExpand(orDefault(raw.TokenFile, defaultTokenFile)),
		StateDir:          mustExpand(orDefault(raw.StateDir, defaultStateDir)),
		LogFile:           mustExpand(orDefault(raw.LogFile, defaultLogFile)),
		LogLevel:          strings.ToLower(orDefault(raw.LogLevel, defaultLogLevel)),
		PollInterval:      defaultPollInterval,
		RequestsPerSecond: defaultRPS,
		MetricsAddr:       strings.TrimSpace(raw.MetricsAddr),
		Retry:             retry.DefaultConfig(),
	}
	if raw.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(raw.PollSeconds) * time.Second
	}
	if raw.RequestsPerSecond != nil && *raw.RequestsPerSecond >= 0 {
		cfg.RequestsPerSecond = *raw.RequestsPerSecond
	}
	if raw.Retry.MaxRetries != nil {
		cfg.Retry.MaxRetries = *raw.Retry.MaxRetries
	}
	if raw.Retry.InitialBackoffMS > 0 {
		cfg.Retry.InitialBackoff = time.Duration(raw.Retry.InitialBackoffMS) * time.Millisecond
	}
	if raw.Retry.MaxBackoffMS > 0 {
		cfg.Retry.MaxBackoff = time.Duration(raw.Retry.MaxBackoffMS) * time.Millisecond
	}
	if err := cfg.Retry.Validate(); err != nil {
		return Config{}, fmt.Errorf("parse config: retry: %w", err)
	}

	env, err := readEnv(filepath.Join(filepath.Dir(resolved), ".env"))
	if err != nil {
		return Config{}, err
	}
	if v := env(envAPIURL); v != "" {
		cfg.APIURL = v
	}
	cfg.Token = env(envToken)

	return cfg, nil
}

// ReadToken returns the session token from the environment or token_file.
func (c Config) ReadToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	raw, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("read token: %s is empty", c.TokenFile)
	}
	return token, nil
}

// MarksPath returns the directory of the unconfirmed-marks database.
func (c Config) MarksPath() string {
	if strings.TrimSpace(c.StateDir) == "" {
		return filepath.Join(mustExpand(defaultStateDir), "marks")
	}
	return filepath.Join(c.StateDir, "marks")
}

// readEnv returns a lookup preferring the process environment over the
// .env file at path. A missing file is not an error.
func readEnv(path string) (func(string) string, error) {
	fromFile, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(fromFile[key])
	}, nil
}

func orDefault(v, def string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return trimmed
	}
	return def
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
