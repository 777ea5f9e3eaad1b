package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config - Process configuration. Everything here is deployment wiring;
// the season/role/permission definitions live in their own JSON files
// under ConfigDir and are loaded separately.
type Config struct {
	BotToken          string        `mapstructure:"bot_token"`
	GuildID           string        `mapstructure:"guild_id"`
	CommandPrefix     string        `mapstructure:"command_prefix"`
	OperatorChannel   string        `mapstructure:"operator_channel"`
	DataPath          string        `mapstructure:"data_path"`
	ConfigDir         string        `mapstructure:"config_dir"`
	ListenAddr        string        `mapstructure:"listen_addr"`
	BaseURL           string        `mapstructure:"base_url"`
	OAuthClientID     string        `mapstructure:"oauth_client_id"`
	OAuthClientSecret string        `mapstructure:"oauth_client_secret"`
	StateSecret       string        `mapstructure:"state_secret"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	ResyncInterval    time.Duration `mapstructure:"resync_interval"`
	LogLevel          string        `mapstructure:"log_level"`
}

// Load - Read gatekeeper.yaml plus GATEKEEPER_* environment overrides.
// Secrets usually come from the environment rather than the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("gatekeeper")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("command_prefix", "!")
	v.SetDefault("data_path", "data/identities.db")
	v.SetDefault("config_dir", "data/config")
	v.SetDefault("listen_addr", ":3000")
	v.SetDefault("base_url", "http://localhost:3000")
	v.SetDefault("session_ttl", "1h")
	v.SetDefault("resync_interval", "0")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("GATEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file is fine, the environment can carry everything
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot_token is required (GATEKEEPER_BOT_TOKEN)")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("guild_id is required (GATEKEEPER_GUILD_ID)")
	}
	if cfg.StateSecret == "" {
		return nil, fmt.Errorf("state_secret is required (GATEKEEPER_STATE_SECRET)")
	}
	return &cfg, nil
}
