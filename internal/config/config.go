// Package config loads the bridge configuration: defaults, then bridge.yaml,
// then P8LINK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"p8link.dev/internal/flags"
	"p8link.dev/internal/gpio"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "P8LINK_"

type Config struct {
	Archipelago ArchipelagoConfig `yaml:"archipelago" envPrefix:"AP_"`
	Console     ConsoleConfig     `yaml:"console" envPrefix:"CONSOLE_"`
	Journal     JournalConfig     `yaml:"journal" envPrefix:"JOURNAL_"`
	Index       IndexConfig       `yaml:"index" envPrefix:"INDEX_"`

	// CallTimeout bounds each outgoing protocol call made by the bridge.
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`

	Layout gpio.Layout `yaml:"layout"`
}

type ArchipelagoConfig struct {
	// Server is host:port (wss first, then ws) or a full ws:// / wss:// URL.
	Server   string `yaml:"server" env:"SERVER"`
	Name     string `yaml:"name" env:"NAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	Game     string `yaml:"game" env:"GAME"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

type ConsoleConfig struct {
	Addr           string   `yaml:"addr" env:"ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	StaticDir      string   `yaml:"static_dir" env:"STATIC_DIR"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Dir     string `yaml:"dir" env:"DIR"`
}

type IndexConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// Load reads path (optional) over the defaults, then applies environment
// overrides and finally overrides (command-line flags). The result is
// normalized and validated.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("bridge.yaml: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("env: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Archipelago: ArchipelagoConfig{
			Server:           "archipelago.gg:38281",
			Game:             flags.Game,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Console: ConsoleConfig{
			Addr: "127.0.0.1:8080",
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     "./data/journal",
		},
		Index: IndexConfig{
			Enabled: false,
			Path:    "./data/index.sqlite",
		},
		CallTimeout: 5 * time.Second,
		Layout:      gpio.DefaultLayout(),
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Archipelago.Server = strings.TrimSpace(c.Archipelago.Server)
	c.Archipelago.Name = strings.TrimSpace(c.Archipelago.Name)
	if strings.TrimSpace(c.Archipelago.Game) == "" {
		c.Archipelago.Game = flags.Game
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	c.Console.Addr = strings.TrimSpace(c.Console.Addr)
	origins := c.Console.AllowedOrigins[:0]
	for _, o := range c.Console.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.Console.AllowedOrigins = origins
	c.Layout.Normalize()
}

func (c Config) Validate() error {
	if c.Archipelago.Server == "" {
		return errors.New("archipelago.server is required")
	}
	if c.Archipelago.Name == "" {
		return errors.New("archipelago.name is required")
	}
	if c.Console.Addr == "" {
		return errors.New("console.addr is required")
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Dir) == "" {
		return errors.New("journal.dir is required when the journal is enabled")
	}
	if c.Index.Enabled && strings.TrimSpace(c.Index.Path) == "" {
		return errors.New("index.path is required when the index is enabled")
	}
	if err := c.Layout.ValidateTables(flags.Inbound, flags.Outbound); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	return nil
}
