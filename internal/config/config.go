package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/printagent/config.yaml"

type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Device   DeviceConfig   `yaml:"device"`
	Printer  PrinterConfig  `yaml:"printer"`
	Stamp    StampConfig    `yaml:"stamp"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type RemoteConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Secret           string        `yaml:"secret"`
	Login            string        `yaml:"login"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	TokenTTL         time.Duration `yaml:"token_ttl"`
	ActionRetries    int           `yaml:"action_retries"`
	ActionRetryDelay time.Duration `yaml:"action_retry_delay"`
}

type DeviceConfig struct {
	Serial       string `yaml:"serial"`
	CPUInfoPath  string `yaml:"cpuinfo_path"`
	NetClassPath string `yaml:"net_class_path"`
}

type PrinterConfig struct {
	Name           string        `yaml:"name"`
	Command        string        `yaml:"command"`
	OptionsCommand string        `yaml:"options_command"`
	Options        []string      `yaml:"options"`
	Timeout        time.Duration `yaml:"timeout"`
}

type StampConfig struct {
	InsetMM   float64 `yaml:"inset_mm"`
	SizeMM    float64 `yaml:"size_mm"`
	PaddingMM float64 `yaml:"padding_mm"`
}

type DispatchConfig struct {
	IdleInterval time.Duration `yaml:"idle_interval"`
	ScratchDir   string        `yaml:"scratch_dir"`
	MaxCopies    int           `yaml:"max_copies"`
}

type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Remote: RemoteConfig{
			RequestTimeout:   10 * time.Second,
			DownloadTimeout:  30 * time.Second,
			TokenTTL:         24 * time.Hour,
			ActionRetries:    2,
			ActionRetryDelay: time.Second,
		},
		Device: DeviceConfig{
			CPUInfoPath:  "/proc/cpuinfo",
			NetClassPath: "/sys/class/net",
		},
		Printer: PrinterConfig{
			Command:        "lp",
			OptionsCommand: "lpoptions",
			Options:        []string{"-o", "media=A4"},
			Timeout:        60 * time.Second,
		},
		Stamp: StampConfig{
			InsetMM:   5,
			SizeMM:    18,
			PaddingMM: 1.5,
		},
		Dispatch: DispatchConfig{
			IdleInterval: 15 * time.Second,
			MaxCopies:    100,
			ScratchDir:   "/tmp/pdfdownload",
		},
		Database: DatabaseConfig{
			Enabled: true,
			Path:    "./data/printagent.db",
		},
		Server: ServerConfig{
			Enabled:      true,
			Address:      "127.0.0.1:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads configPath on top of the defaults and applies environment
// overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("PRINTAGENT_API_URL", &cfg.Remote.BaseURL)
	str("PRINTAGENT_API_SECRET", &cfg.Remote.Secret)
	str("PRINTAGENT_API_LOGIN", &cfg.Remote.Login)
	dur("PRINTAGENT_DOWNLOAD_TIMEOUT", &cfg.Remote.DownloadTimeout)
	str("PRINTAGENT_SERIAL", &cfg.Device.Serial)
	str("PRINTAGENT_PRINTER", &cfg.Printer.Name)
	str("PRINTAGENT_SCRATCH_DIR", &cfg.Dispatch.ScratchDir)
	dur("PRINTAGENT_IDLE_INTERVAL", &cfg.Dispatch.IdleInterval)
	str("PRINTAGENT_DB_PATH", &cfg.Database.Path)
	str("PRINTAGENT_LISTEN", &cfg.Server.Address)
	str("PRINTAGENT_JWT_SECRET", &cfg.Server.JWTSecret)
	str("PRINTAGENT_LOG_LEVEL", &cfg.Logging.Level)
	str("PRINTAGENT_LOG_FORMAT", &cfg.Logging.Format)

	if v, ok := lookup("PRINTAGENT_PRINTER_OPTIONS"); ok && v != "" {
		cfg.Printer.Options = strings.Fields(v)
	}
	if v, ok := lookup("PRINTAGENT_MAX_COPIES"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxCopies = n
		}
	}
	if v, ok := lookup("PRINTAGENT_SERVER_ENABLED"); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.Enabled = b
		}
	}
}

func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base url is required")
	}
	if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote base url must be http or https, got %q", c.Remote.BaseURL)
	}
	if c.Remote.Secret == "" {
		return fmt.Errorf("remote secret is required")
	}
	if c.Remote.RequestTimeout <= 0 || c.Remote.DownloadTimeout <= 0 {
		return fmt.Errorf("remote timeouts must be positive")
	}
	if c.Remote.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.Remote.ActionRetries < 0 {
		return fmt.Errorf("action retries must be non-negative")
	}
	if c.Remote.ActionRetryDelay < 0 {
		return fmt.Errorf("action retry delay must be non-negative")
	}

	if c.Printer.Name == "" {
		return fmt.Errorf("printer name is required")
	}
	if c.Printer.Command == "" {
		return fmt.Errorf("printer command is required")
	}
	if c.Printer.Timeout <= 0 {
		return fmt.Errorf("printer timeout must be positive")
	}

	if c.Stamp.SizeMM <= 0 {
		return fmt.Errorf("stamp size must be positive, got %v", c.Stamp.SizeMM)
	}
	if c.Stamp.InsetMM < 0 || c.Stamp.PaddingMM < 0 {
		return fmt.Errorf("stamp inset and padding must be non-negative")
	}

	if c.Dispatch.IdleInterval <= 0 {
		return fmt.Errorf("idle interval must be positive")
	}
	if c.Dispatch.ScratchDir == "" {
		return fmt.Errorf("scratch dir is required")
	}
	if c.Dispatch.MaxCopies <= 0 {
		return fmt.Errorf("max copies must be positive, got %d", c.Dispatch.MaxCopies)
	}

	if c.Database.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Server.Enabled {
		if c.Server.Address == "" {
			return fmt.Errorf("server address is required")
		}
		if c.Server.PasswordHash != "" && len(c.Server.JWTSecret) < 16 {
			return fmt.Errorf("jwt secret must be at least 16 characters when a password is set")
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
