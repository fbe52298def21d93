package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

const defaultConf = `server:
    host: "localhost"
    port: "6667"
    name: "girc-bridge"
    motd: "IRC gateway to the remote chat backend"
bridge:
    base_url: ""
    keepalive: 1s
    color: "#ffffff"
redis:
    enabled: false
    url: "redis://localhost:6379/0"
    prefix: "girc-bridge"
metrics:
    addr: ""
`

type Config struct {
	Server struct {
		Name  string `yaml:"name"`
		Host  string `yaml:"host"`
		Port  string `yaml:"port"`
		Motd  string `yaml:"motd"`
		Debug bool   `yaml:"debug"`
	} `yaml:"server"`
	Bridge struct {
		BaseURL   string        `yaml:"base_url"`
		KeepAlive time.Duration `yaml:"keepalive"`
		Color     string        `yaml:"color"`
	} `yaml:"bridge"`
	Redis struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Prefix  string `yaml:"prefix"`
	} `yaml:"redis"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// DefaultPath returns ~/.girc/conf.yaml, creating it with defaults when it
// does not exist yet.
func DefaultPath() (string, error) {
	osUser, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}

	configDir := filepath.Join(osUser.HomeDir, ".girc")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", configDir, err)
	}
	confPath := filepath.Join(configDir, "conf.yaml")
	if _, err := os.Stat(confPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(confPath, []byte(defaultConf), 0o644); err != nil {
			return "", fmt.Errorf("failed to write default config: %w", err)
		}
		log.Infof("Wrote default config to %s", confPath)
	}
	return confPath, nil
}

// Load reads the YAML file at path (DefaultPath when empty), then applies
// .env files and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	c, err := Parse(path)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("Could not load .env: %v", err)
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse reads the YAML file at path on top of the defaults.
func Parse(path string) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal([]byte(defaultConf), c); err != nil {
		return nil, fmt.Errorf("failed to parse default config: %w", err)
	}

	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(yamlFile, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv overrides file values with BASE_URL, GIRC_PORT, GIRC_DEBUG,
// REDIS_URL and METRICS_ADDR when set.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("BASE_URL"); ok {
		c.Bridge.BaseURL = v
	}
	if v, ok := os.LookupEnv("GIRC_PORT"); ok {
		c.Server.Port = v
	}
	if v, ok := os.LookupEnv("GIRC_DEBUG"); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid GIRC_DEBUG %q: %w", v, err)
		}
		c.Server.Debug = debug
	}
	if v, ok := os.LookupEnv("REDIS_URL"); ok {
		c.Redis.URL = v
		c.Redis.Enabled = v != ""
	}
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	return nil
}

// Validate checks that the bridge can start with c.
func (c *Config) Validate() error {
	if c.Bridge.BaseURL == "" {
		return errors.New("bridge.base_url (or BASE_URL) must be set")
	}
	if c.Server.Port == "" {
		return errors.New("server.port must be set")
	}
	if _, err := strconv.ParseUint(c.Server.Port, 10, 16); err != nil {
		return fmt.Errorf("invalid server.port %q: %w", c.Server.Port, err)
	}
	if c.Bridge.KeepAlive < 0 {
		return fmt.Errorf("bridge.keepalive must not be negative, got %s", c.Bridge.KeepAlive)
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("redis.url must be set when redis is enabled")
	}
	return nil
}
