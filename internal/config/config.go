package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/drivewatch/config.yml"
	EnvPrefix         = "DRIVEWATCH"
)

type APIConfig struct {
	BindAddress string   `yaml:"bind_address" envconfig:"BIND"`
	Port        int      `yaml:"port" envconfig:"PORT"`
	AuthToken   string   `yaml:"auth_token" envconfig:"TOKEN"`
	CORSOrigins []string `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // console | json
}

type ToolsConfig struct {
	Lsblk    string        `yaml:"lsblk" envconfig:"LSBLK"`
	Smartctl string        `yaml:"smartctl" envconfig:"SMARTCTL"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT"` // 0 disables
}

type PathsConfig struct {
	ByIDDir string `yaml:"by_id_dir" envconfig:"BY_ID_DIR"`
	DevDir  string `yaml:"dev_dir" envconfig:"DEV_DIR"`
}

type TrueNASConfig struct {
	Enabled            bool          `yaml:"enabled" envconfig:"ENABLED"`
	Address            string        `yaml:"address" envconfig:"ADDRESS"`
	Token              string        `yaml:"token" envconfig:"TOKEN"`
	AcceptInvalidCerts bool          `yaml:"accept_invalid_certs" envconfig:"ACCEPT_INVALID_CERTS"`
	Timeout            time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// Config is built once at startup and handed to every component by value.
type Config struct {
	API     APIConfig     `yaml:"api" envconfig:"API"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOG"`
	Tools   ToolsConfig   `yaml:"tools" envconfig:"TOOLS"`
	Paths   PathsConfig   `yaml:"paths" envconfig:"PATHS"`
	TrueNAS TrueNASConfig `yaml:"truenas" envconfig:"TRUENAS"`
}

// TrueNASEnabled reports whether the remote alert feed is configured for use.
func (c Config) TrueNASEnabled() bool {
	return c.TrueNAS.Enabled && c.TrueNAS.Address != "" && c.TrueNAS.Token != ""
}

// ListenAddr is the host:port the API server binds to.
func (c APIConfig) ListenAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			BindAddress: "0.0.0.0",
			Port:        30603,
			AuthToken:   "",
			CORSOrigins: []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tools: ToolsConfig{
			Lsblk:    "lsblk",
			Smartctl: "smartctl",
		},
		Paths: PathsConfig{
			ByIDDir: "/dev/disk/by-id",
			DevDir:  "/dev",
		},
		TrueNAS: TrueNASConfig{
			Enabled: false,
			Timeout: 30 * time.Second,
		},
	}
}

// Defaults returns the built-in configuration without reading file or env.
func Defaults() Config {
	return defaultConfig()
}

// DefaultYAML renders the built-in configuration as a config file that Load
// accepts unchanged.
func DefaultYAML() ([]byte, error) {
	return yaml.Marshal(defaultConfig())
}

func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := defaultConfig()

	if fileExists(path) {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides only touches fields whose variable is set; envconfig
// leaves the rest of the struct alone when no default tag is present.
func applyEnvOverrides(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.API.AuthToken = strings.TrimSpace(cfg.API.AuthToken)
	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return errors.New("api.port must be between 1 and 65535")
	}
	if cfg.API.BindAddress == "" {
		return errors.New("api.bind_address must be set")
	}
	if cfg.Tools.Lsblk == "" || cfg.Tools.Smartctl == "" {
		return errors.New("tools.lsblk and tools.smartctl must be set")
	}
	if cfg.Tools.Timeout < 0 || cfg.TrueNAS.Timeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch cfg.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", cfg.Logging.Format)
	}
	if cfg.TrueNASEnabled() {
		u, err := url.Parse(cfg.TrueNAS.Address)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("truenas.address must be an absolute http(s) url, got %q", cfg.TrueNAS.Address)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
