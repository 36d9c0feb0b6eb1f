// Package config loads runtime configuration from the environment (and an
// optional YAML overlay) into a single validated Config value.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Security groups the inbound-auth related settings.
type Security struct {
	AuthPassword string
	Debug        bool
	LogFile      string
}

// Logging groups the structured-logging settings.
type Logging struct {
	Level string
	File  string
}

// Tracing groups the OpenTelemetry exporter settings.
type Tracing struct {
	OTLPEndpoint string
}

// CredentialStore groups the pluggable credential-source settings.
type CredentialStore struct {
	AccountDir string
	RedisAddr  string
}

// AutoBan groups the health-scored auto-ban supplement's toggle.
type AutoBan struct {
	Enabled bool
}

// Config is the fully resolved runtime configuration for the proxy.
type Config struct {
	Host string
	Port int

	Security        Security
	Logging         Logging
	Tracing         Tracing
	CredentialStore CredentialStore
	AutoBan         AutoBan

	// OAuthCallbackPort is read only to stay compatible with the external
	// enrolment launcher's env var; the proxy itself never binds it.
	OAuthCallbackPort int

	// GoogleApplicationCredentials names a legacy single-account file that
	// is loaded when the account directory yields no accounts.
	// GeminiCredentialsJSON is read from GEMINI_CREDENTIALS but is not used
	// when loading the pool.
	GoogleApplicationCredentials string
	GeminiCredentialsJSON        string
}

const (
	defaultHost               = "127.0.0.1"
	defaultPort                = 8888
	defaultAuthPassword        = "123456"
	defaultOAuthCallbackPort   = 8080
	defaultAccountDir          = "accounts"
	defaultGoogleAppCredsFile  = "oauth_creds.json"
	defaultLogLevel            = "info"
)

// Load reads configuration from the environment, optionally overlaying a
// YAML file named by CONFIG_FILE, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Host: defaultHost,
		Port: defaultPort,
		Security: Security{
			AuthPassword: defaultAuthPassword,
		},
		Logging: Logging{Level: defaultLogLevel},
		CredentialStore: CredentialStore{
			AccountDir: defaultAccountDir,
		},
		AutoBan:           AutoBan{Enabled: true},
		OAuthCallbackPort: defaultOAuthCallbackPort,
		GoogleApplicationCredentials: defaultGoogleAppCredsFile,
	}

	applyEnv(cfg)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyYAMLOverlay(cfg, path); err != nil {
			return nil, fmt.Errorf("config: load overlay %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Security.AuthPassword == defaultAuthPassword {
		log.Warn("GEMINI_AUTH_PASSWORD is set to its documented default; change it before exposing this proxy")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("GEMINI_AUTH_PASSWORD"); v != "" {
		cfg.Security.AuthPassword = v
	}
	if v := os.Getenv("OAUTH_CALLBACK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.OAuthCallbackPort = p
		}
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		cfg.GoogleApplicationCredentials = v
	}
	if v := os.Getenv("GEMINI_CREDENTIALS"); v != "" {
		cfg.GeminiCredentialsJSON = v
	}
	if v := os.Getenv("ACCOUNT_DIR"); v != "" {
		cfg.CredentialStore.AccountDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
		cfg.Security.LogFile = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.CredentialStore.RedisAddr = v
	}
	if v := os.Getenv("AUTO_BAN_ENABLED"); v != "" {
		cfg.AutoBan.Enabled = v != "false" && v != "0"
	}
	cfg.Security.Debug = cfg.Logging.Level == "debug"
}

// yamlOverlay mirrors the subset of Config fields an operator may want to
// override from a file instead of the environment.
type yamlOverlay struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Security struct {
		AuthPassword string `yaml:"auth_password"`
	} `yaml:"security"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	CredentialStore struct {
		AccountDir string `yaml:"account_dir"`
		RedisAddr  string `yaml:"redis_addr"`
	} `yaml:"credential_store"`
	AutoBanEnabled *bool `yaml:"auto_ban_enabled"`
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	if overlay.Host != "" {
		cfg.Host = overlay.Host
	}
	if overlay.Port != 0 {
		cfg.Port = overlay.Port
	}
	if overlay.Security.AuthPassword != "" {
		cfg.Security.AuthPassword = overlay.Security.AuthPassword
	}
	if overlay.Logging.Level != "" {
		cfg.Logging.Level = overlay.Logging.Level
		cfg.Security.Debug = overlay.Logging.Level == "debug"
	}
	if overlay.Logging.File != "" {
		cfg.Logging.File = overlay.Logging.File
		cfg.Security.LogFile = overlay.Logging.File
	}
	if overlay.CredentialStore.AccountDir != "" {
		cfg.CredentialStore.AccountDir = overlay.CredentialStore.AccountDir
	}
	if overlay.CredentialStore.RedisAddr != "" {
		cfg.CredentialStore.RedisAddr = overlay.CredentialStore.RedisAddr
	}
	if overlay.AutoBanEnabled != nil {
		cfg.AutoBan.Enabled = *overlay.AutoBanEnabled
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	if net.ParseIP(c.Host) == nil && c.Host != "localhost" {
		return fmt.Errorf("config: invalid HOST %q", c.Host)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q", c.Logging.Level)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
