package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

var validate = validator.New()

type Config struct {
	Backend Backend `yaml:"backend"`
	Server  Server  `yaml:"server"`
	Admin   Admin   `yaml:"admin"`
	Logging Logging `yaml:"logging"`
}

type Backend struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type Server struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// Admin names the environment variables that hold the admin credentials.
type Admin struct {
	UserEnv string `yaml:"user_env"`
	PassEnv string `yaml:"pass_env"`
}

type Logging struct {
	Level string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
}

// ConfigDir returns the XDG config directory for triagedesk.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "triagedesk")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/triagedesk/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'triagedesk init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file. A .env file in the
// working directory, if any, is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Backend: Backend{
			URL:     "http://localhost:5000",
			Timeout: 120 * time.Second,
		},
		Server: Server{Port: 8080},
		Admin: Admin{
			UserEnv: "ADMIN_USER",
			PassEnv: "ADMIN_PASS",
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// AdminCredentials returns the admin user and password from the environment
// variables named in the config. ok is false when either is unset.
func (c *Config) AdminCredentials() (user, pass string, ok bool) {
	user = os.Getenv(c.Admin.UserEnv)
	pass = os.Getenv(c.Admin.PassEnv)
	return user, pass, user != "" && pass != ""
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
