// Package config merges flags, environment, .env and the optional YAML file
// into one validated Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tanq16/splitfetch/internal/pinning"
	"github.com/tanq16/splitfetch/internal/utils"
	"github.com/tanq16/splitfetch/internal/validation"
)

const EnvPrefix = "SPLITFETCH"

type Config struct {
	Timeout          time.Duration `mapstructure:"timeout" validate:"gte=0s"`
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout" validate:"gte=0s"`
	UserAgent        string        `mapstructure:"user_agent"`
	Proxy            string        `mapstructure:"proxy" validate:"omitempty,url"`
	ProxyUsername    string        `mapstructure:"proxy_username"`
	ProxyPassword    string        `mapstructure:"proxy_password"`
	Headers          []string      `mapstructure:"headers"`
	Resolve          []string      `mapstructure:"resolve"`
	HighThreadMode   bool          `mapstructure:"high_thread_mode"`

	BearerToken string `mapstructure:"bearer"`
	S3Profile   string `mapstructure:"s3_profile"`

	Connections int   `mapstructure:"connections" validate:"gte=1,lte=1024"`
	Workers     int   `mapstructure:"workers" validate:"gte=0"`
	Limit       int64 `mapstructure:"limit" validate:"gte=0"`

	CheckpointDir string   `mapstructure:"checkpoint_dir"`
	MetricsAddr   string   `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	PinBundle     string   `mapstructure:"pin_bundle"`
	Pins          []string `mapstructure:"pins"`

	Debug bool `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timeout", 3*time.Minute)
	v.SetDefault("keep_alive_timeout", 90*time.Second)
	v.SetDefault("user_agent", utils.DefaultUserAgent)
	v.SetDefault("proxy", "")
	v.SetDefault("proxy_username", "")
	v.SetDefault("proxy_password", "")
	v.SetDefault("headers", []string{})
	v.SetDefault("resolve", []string{})
	v.SetDefault("high_thread_mode", false)
	v.SetDefault("bearer", "")
	v.SetDefault("s3_profile", "")
	v.SetDefault("connections", utils.DefaultStreamFragments)
	v.SetDefault("workers", 4)
	v.SetDefault("limit", 0)
	v.SetDefault("checkpoint_dir", utils.CheckpointDir)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("pin_bundle", ".")
	v.SetDefault("pins", []string{})
	v.SetDefault("debug", false)
}

// Load reads envFile (if present) into the process environment, then resolves
// every key from flags bound on v, SPLITFETCH_* variables, the config file and
// defaults, in that order of precedence. An empty configFile searches for
// splitfetch.yaml in the working directory and ~/.config/splitfetch.
func Load(v *viper.Viper, configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("splitfetch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "splitfetch"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := validation.Validator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) HTTPClientConfig() (utils.HTTPClientConfig, error) {
	resolve, err := utils.ParseResolveArgs(c.Resolve)
	if err != nil {
		return utils.HTTPClientConfig{}, err
	}
	proxyURL, proxyUser, proxyPass := c.Proxy, c.ProxyUsername, c.ProxyPassword
	// credentials embedded in the proxy URL apply unless given explicitly
	if parsed, err := url.Parse(proxyURL); err == nil && parsed.User != nil && proxyUser == "" {
		proxyUser = parsed.User.Username()
		if password, set := parsed.User.Password(); set {
			proxyPass = password
		}
		parsed.User = nil
		proxyURL = parsed.String()
	}
	return utils.HTTPClientConfig{
		Timeout:        c.Timeout,
		KATimeout:      c.KeepAliveTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUser,
		ProxyPassword:  proxyPass,
		UserAgent:      c.UserAgent,
		Headers:        utils.ParseHeaderArgs(c.Headers),
		HighThreadMode: c.HighThreadMode,
		Resolve:        resolve,
		BearerToken:    c.BearerToken,
	}, nil
}

// PinningPolicy builds the policy from host=certificate pairs, with
// certificate names resolved against PinBundle.
func (c *Config) PinningPolicy() (pinning.Policy, error) {
	pins, err := utils.ParseKeyValueArgs(c.Pins)
	if err != nil {
		return pinning.Policy{}, err
	}
	return pinning.LoadPolicy(c.PinBundle, pins), nil
}
