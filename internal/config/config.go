// Package config loads gateway settings from defaults, an optional TOML
// file, .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configName = "gpool"
	configType = "toml"
	configDir  = ".config/gpool"
	envPrefix  = "GPOOL"

	redacted = "********"

	defaultDecayFactor  = 0.995
	defaultRedirectAddr = "127.0.0.1:45289"
)

const (
	KeyServerHost      = "server.host"
	KeyServerPort      = "server.port"
	KeyAccountsDir     = "accounts.dir"
	KeyProxy           = "proxy"
	KeyOAuthClientID   = "oauth.client_id"
	KeyOAuthSecret     = "oauth.client_secret"
	KeyOAuthRedirect   = "oauth.redirect_addr"
	KeyUpstreamBaseURL = "upstream.base_url"
	KeyUpstreamVersion = "upstream.api_version"
	KeyPoolMaxAttempts = "pool.max_attempts"
	KeyPoolDecayFactor = "pool.decay_factor"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
)

// legacyEnv maps keys to the unprefixed variable names older deployments use.
var legacyEnv = map[string]string{
	KeyServerHost:    "HOST",
	KeyServerPort:    "PORT",
	KeyProxy:         "PROXY",
	KeyOAuthClientID: "OAUTH_CLIENT_ID",
	KeyOAuthSecret:   "OAUTH_CLIENT_SECRET",
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Accounts AccountsConfig `mapstructure:"accounts" toml:"accounts"`
	Proxy    string         `mapstructure:"proxy" toml:"proxy"`
	OAuth    OAuthConfig    `mapstructure:"oauth" toml:"oauth"`
	Upstream UpstreamConfig `mapstructure:"upstream" toml:"upstream"`
	Pool     PoolConfig     `mapstructure:"pool" toml:"pool"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" toml:"host"`
	Port int    `mapstructure:"port" toml:"port"`
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type AccountsConfig struct {
	Dir string `mapstructure:"dir" toml:"dir"`
}

type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id" toml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" toml:"client_secret"`
	RedirectAddr string `mapstructure:"redirect_addr" toml:"redirect_addr"`
}

type UpstreamConfig struct {
	BaseURL    string `mapstructure:"base_url" toml:"base_url"`
	APIVersion string `mapstructure:"api_version" toml:"api_version"`
}

type PoolConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts" toml:"max_attempts"`
	DecayFactor float64 `mapstructure:"decay_factor" toml:"decay_factor"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
}

type LoadOptions struct {
	// ConfigFile overrides the search for gpool.toml.
	ConfigFile string
	// EnvFiles are loaded into the process environment before reading.
	// Missing files are ignored. Defaults to ".env".
	EnvFiles []string
	// SearchPaths replaces the default config directories.
	SearchPaths []string
}

// Load resolves the effective configuration. Precedence from lowest to
// highest: defaults, config file, environment.
func Load(opts LoadOptions) (Config, error) {
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		for _, path := range searchPaths(opts.SearchPaths) {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerHost, "0.0.0.0")
	v.SetDefault(KeyServerPort, 3000)
	v.SetDefault(KeyAccountsDir, "./accounts")
	v.SetDefault(KeyProxy, "")
	v.SetDefault(KeyOAuthClientID, "")
	v.SetDefault(KeyOAuthSecret, "")
	v.SetDefault(KeyOAuthRedirect, defaultRedirectAddr)
	v.SetDefault(KeyUpstreamBaseURL, "https://cloudcode-pa.googleapis.com")
	v.SetDefault(KeyUpstreamVersion, "v1internal")
	v.SetDefault(KeyPoolMaxAttempts, 0)
	v.SetDefault(KeyPoolDecayFactor, defaultDecayFactor)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range v.AllKeys() {
		names := []string{envName(key)}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func loadEnvFiles(files []string) error {
	if files == nil {
		files = []string{".env"}
	}

	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func searchPaths(override []string) []string {
	if len(override) > 0 {
		return override
	}

	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append([]string{filepath.Join(home, configDir)}, paths...)
	}
	return paths
}

func (c *Config) normalize() {
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	c.Accounts.Dir = strings.TrimSpace(c.Accounts.Dir)
	c.Proxy = strings.TrimSpace(c.Proxy)
	c.OAuth.ClientID = strings.TrimSpace(c.OAuth.ClientID)
	c.OAuth.ClientSecret = strings.TrimSpace(c.OAuth.ClientSecret)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

func (c Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Accounts.Dir == "" {
		errs = append(errs, errors.New("accounts.dir is empty"))
	}
	if c.Pool.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("pool.max_attempts %d is negative", c.Pool.MaxAttempts))
	}
	if c.Pool.DecayFactor <= 0 || c.Pool.DecayFactor > 1 {
		errs = append(errs, fmt.Errorf("pool.decay_factor %g must be in (0, 1]", c.Pool.DecayFactor))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// RequireOAuthClient reports whether token refresh and enrollment can run.
func (c Config) RequireOAuthClient() error {
	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		return errors.New("missing OAuth client: set oauth.client_id and oauth.client_secret (or OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET)")
	}
	return nil
}

// Redacted hides secrets for display.
func (c Config) Redacted() Config {
	if c.OAuth.ClientSecret != "" {
		c.OAuth.ClientSecret = redacted
	}
	return c
}

// TOML renders c in the config file format.
func (c Config) TOML() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
