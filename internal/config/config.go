// Package config loads the TOML configuration, with XDG-aware default
// locations and defaults applied before the file overrides them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSocketPath       = "/tmp/nowlyrics.sock"
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultLinePoll         = 100 * time.Millisecond
	DefaultProgressInterval = 33 * time.Millisecond
)

// App holds engine and transport settings.
type App struct {
	SocketPath       string   `toml:"socket_path"`
	PollInterval     duration `toml:"poll_interval"`
	LinePoll         duration `toml:"line_poll"`
	ProgressInterval duration `toml:"progress_interval"`
}

// Store selects and configures the cache backend.
type Store struct {
	Backend  string `toml:"backend"` // "file" or "redis"
	CacheDir string `toml:"cache_dir"`
}

// Redis is used when the store backend is "redis".
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// AI configures the title normalizer. Backend "gemini" or "openai";
// empty disables it.
type AI struct {
	Backend string `toml:"backend"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"` // openai-compatible endpoints only
}

// Translate configures the Tencent TMT translation backfill. Empty
// credentials disable it.
type Translate struct {
	SecretID  string `toml:"secret_id"`
	SecretKey string `toml:"secret_key"`
}

// Providers selects lyric sources and their credentials.
type Providers struct {
	Enabled       []string `toml:"enabled"` // subset of lrclib, netease, qqmusic
	NetEaseCookie string   `toml:"netease_cookie"`
	QQMusicCookie string   `toml:"qqmusic_cookie"`
}

// Config is the root of the TOML file.
type Config struct {
	App       App       `toml:"app"`
	Store     Store     `toml:"store"`
	Redis     Redis     `toml:"redis"`
	AI        AI        `toml:"ai"`
	Translate Translate `toml:"translate"`
	Providers Providers `toml:"providers"`
}

// duration parses TOML strings like "500ms".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Value returns the underlying time.Duration.
func (d duration) Value() time.Duration { return time.Duration(d) }

// DefaultPath returns $XDG_CONFIG_HOME/nowlyrics/config.toml, falling back
// to ~/.config.
func DefaultPath() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "nowlyrics", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "nowlyrics", "config.toml")
}

func defaultCacheDir() string {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, "nowlyrics")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "nowlyrics_cache"
	}
	return filepath.Join(home, ".cache", "nowlyrics")
}

func defaults() *Config {
	return &Config{
		App: App{
			SocketPath:       DefaultSocketPath,
			PollInterval:     duration(DefaultPollInterval),
			LinePoll:         duration(DefaultLinePoll),
			ProgressInterval: duration(DefaultProgressInterval),
		},
		Store: Store{
			Backend:  "file",
			CacheDir: defaultCacheDir(),
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Providers: Providers{
			Enabled: []string{"lrclib", "netease", "qqmusic"},
		},
	}
}

// Load reads the config at path, or the default location when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := defaults()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("config file not found, using defaults")
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("config loaded")
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.AI.Backend {
	case "", "gemini", "openai":
	default:
		return fmt.Errorf("unknown ai backend %q", c.AI.Backend)
	}
	for _, p := range c.Providers.Enabled {
		switch p {
		case "lrclib", "netease", "qqmusic":
		default:
			return fmt.Errorf("unknown provider %q", p)
		}
	}
	return nil
}
