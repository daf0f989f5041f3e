package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nholik/phaseup/internal/logging"
	"github.com/nholik/phaseup/internal/stack"
)

const (
	envComposeDir      = "PHASEUP_COMPOSE_DIR"
	envDockerHost      = "PHASEUP_DOCKER_HOST"
	envLogLevel        = "PHASEUP_LOG_LEVEL"
	envLogFormat       = "PHASEUP_LOG_FORMAT"
	envStackFile       = "PHASEUP_STACK_FILE"
	envHealthInterval  = "PHASEUP_HEALTH_INTERVAL"
	envMetricsFile     = "PHASEUP_METRICS_FILE"
	envSlackWebhookURL = "PHASEUP_SLACK_WEBHOOK_URL"
	envWebhookURL      = "PHASEUP_WEBHOOK_URL"
	envWebhookTemplate = "PHASEUP_WEBHOOK_TEMPLATE"
	envDryRunNotify    = "PHASEUP_DRY_RUN_NOTIFY"
)

const (
	defaultHealthInterval = 5 * time.Second
	defaultLogLevel       = "info"
)

// ErrComposeFileNotFound is returned when the environment's compose file does not exist.
var ErrComposeFileNotFound = errors.New("compose file not found")

// Config describes runtime configuration loaded from the environment.
type Config struct {
	// ComposeDir holds the docker-compose.<env>.yml files. It defaults to the
	// directory of the running executable, not the working directory.
	ComposeDir      string
	DockerHost      string
	LogLevel        string
	LogFormat       logging.Format
	StackFile       string
	HealthInterval  time.Duration
	MetricsFile     string
	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRunNotify    bool
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	return load(executableDir)
}

func load(defaultDir func() (string, error)) (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:       defaultLogLevel,
		LogFormat:      logging.FormatConsole,
		HealthInterval: defaultHealthInterval,
	}

	if value, ok := lookupTrimmed(envComposeDir); ok && value != "" {
		abs, err := filepath.Abs(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envComposeDir, err)
		}
		cfg.ComposeDir = abs
	} else {
		dir, err := defaultDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve executable directory: %w", err)
		}
		cfg.ComposeDir = dir
	}

	if value, ok := lookupTrimmed(envDockerHost); ok {
		cfg.DockerHost = value
	}

	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = value
	}

	if value, ok := lookupTrimmed(envLogFormat); ok && value != "" {
		switch strings.ToLower(value) {
		case string(logging.FormatConsole), string(logging.FormatJSON):
			cfg.LogFormat = logging.ParseFormat(value)
		default:
			return Config{}, fmt.Errorf("invalid %s: must be console or json", envLogFormat)
		}
	}

	if value, ok := lookupTrimmed(envStackFile); ok {
		cfg.StackFile = value
	}

	if value, ok := lookupTrimmed(envHealthInterval); ok && value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envHealthInterval, err)
		}
		if interval <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envHealthInterval)
		}
		cfg.HealthInterval = interval
	}

	if value, ok := lookupTrimmed(envMetricsFile); ok {
		cfg.MetricsFile = value
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}

	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}

	if value, ok := lookupTrimmed(envWebhookTemplate); ok {
		cfg.WebhookTemplate = value
	}

	if value, ok := lookupTrimmed(envDryRunNotify); ok && value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRunNotify, err)
		}
		cfg.DryRunNotify = enabled
	}

	if cfg.DockerHost != "" {
		if err := validateDockerHost(cfg.DockerHost); err != nil {
			return Config{}, err
		}
	}
	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// ComposeFile returns the compose file path for env, failing with
// ErrComposeFileNotFound when it does not exist.
func (c Config) ComposeFile(env stack.Environment) (string, error) {
	path := filepath.Join(c.ComposeDir, env.ComposeFile())
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrComposeFileNotFound, path)
		}
		return "", fmt.Errorf("stat compose file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrComposeFileNotFound, path)
	}
	return path, nil
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}

func validateDockerHost(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", envDockerHost, err)
	}
	switch parsed.Scheme {
	case "unix", "npipe":
		if parsed.Path == "" {
			return fmt.Errorf("invalid %s: socket path required", envDockerHost)
		}
	case "tcp", "http", "https":
		if parsed.Host == "" {
			return fmt.Errorf("invalid %s: host required", envDockerHost)
		}
	default:
		return fmt.Errorf("invalid %s: unsupported scheme %q", envDockerHost, parsed.Scheme)
	}
	return nil
}
