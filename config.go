package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "QUOTEBOT_"

// Config is the bot's runtime configuration. Values come from defaults,
// then the optional YAML file, then QUOTEBOT_* environment variables
// (QUOTEBOT_MEDIA__FRESHNESS=10m sets media.freshness).
type Config struct {
	TokenFile   string          `koanf:"token_file"`
	ConfigFile  string          `koanf:"config_file"`
	Storage     string          `koanf:"storage"`
	SQLitePath  string          `koanf:"sqlite_path"`
	Prefix      string          `koanf:"prefix"`
	QuoteEcho   bool            `koanf:"quote_echo"`
	Broadcast   BroadcastConfig `koanf:"broadcast"`
	Media       MediaConfig     `koanf:"media"`
	MetricsAddr string          `koanf:"metrics_addr"`
	OTLPAddr    string          `koanf:"otlp_endpoint"`
	LogLevel    string          `koanf:"log_level"`
	LogFormat   string          `koanf:"log_format"`

	// Token is resolved from BOT_TOKEN or TokenFile, never from YAML.
	Token string `koanf:"-"`
}

type BroadcastConfig struct {
	// Schedule is "HH:MM" for a daily post or a Go duration such as "1m".
	Schedule string `koanf:"schedule"`
	Timezone string `koanf:"timezone"`
}

type MediaConfig struct {
	Command         string        `koanf:"command"`
	Hashtag         string        `koanf:"hashtag"`
	Freshness       time.Duration `koanf:"freshness"`
	MaxResults      int           `koanf:"max_results"`
	Timeout         time.Duration `koanf:"timeout"`
	Backend         string        `koanf:"backend"`
	CredentialsFile string        `koanf:"credentials_file"`
	NitterInstance  string        `koanf:"nitter_instance"`
}

func defaultConfig() Config {
	return Config{
		TokenFile:  "token.txt",
		ConfigFile: "config.json",
		Storage:    "file",
		SQLitePath: "quotebot.db",
		Prefix:     "!",
		QuoteEcho:  true,
		Broadcast: BroadcastConfig{
			Schedule: "12:00",
			Timezone: "Local",
		},
		Media: MediaConfig{
			Command:         "かなたーと",
			Hashtag:         "かなたーと",
			Freshness:       30 * time.Minute,
			MaxResults:      100,
			Timeout:         15 * time.Second,
			Backend:         "twitter",
			CredentialsFile: "twitter_config.json",
			NitterInstance:  "nitter.net",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig reads path (if it exists) and the environment on top of the
// defaults. It does not resolve the bot token; see ResolveToken.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := ParseCadence(c.Broadcast.Schedule, c.Broadcast.Timezone); err != nil {
		return fmt.Errorf("broadcast.schedule: %w", err)
	}
	switch c.Storage {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage: unknown backend %q (want file or sqlite)", c.Storage)
	}
	switch c.Media.Backend {
	case "twitter", "nitter", "none":
	default:
		return fmt.Errorf("media.backend: unknown backend %q (want twitter, nitter or none)", c.Media.Backend)
	}
	if c.Prefix == "" {
		return errors.New("prefix must not be empty")
	}
	if c.Media.Freshness <= 0 {
		return errors.New("media.freshness must be positive")
	}
	return nil
}

// ResolveToken fills Token from BOT_TOKEN, falling back to TokenFile.
func (c *Config) ResolveToken() error {
	if t := strings.TrimSpace(os.Getenv("BOT_TOKEN")); t != "" {
		c.Token = t
		return nil
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return fmt.Errorf("BOT_TOKEN is not set and %s is unreadable: %w", c.TokenFile, err)
	}
	c.Token = strings.TrimSpace(string(data))
	if c.Token == "" {
		return fmt.Errorf("%s is empty", c.TokenFile)
	}
	return nil
}
