package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// DefaultFileName is looked up in the home directory when no --config is given.
const DefaultFileName = ".spillaged"

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ChoiceCacheTTLSeconds  int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	TimeZone               string
	POSBaseURL             string
	SpillageBaseURL        string
	InventoryBaseURL       string
	UpstreamTimeoutSeconds int
	UpstreamRetries        int
	FormIdleTTLMinutes     int
	ReconcileTimeoutSecs   int
	LogLevel               string
	ConfigFile             string
}

// NewViper returns a viper instance with defaults and environment binding set
// up, and the config file read if one exists. cfgFile overrides the lookup of
// ~/.spillaged.yaml.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("choice_cache_ttl_seconds", 6*60*60)
	v.SetDefault("auth_secret", "")
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("timezone", "")
	v.SetDefault("pos_base_url", "")
	v.SetDefault("spillage_base_url", "")
	v.SetDefault("inventory_base_url", "")
	v.SetDefault("upstream_timeout_seconds", 10)
	v.SetDefault("upstream_retries", 3)
	v.SetDefault("form_idle_ttl_minutes", 30)
	v.SetDefault("reconcile_timeout_seconds", 15)
	v.SetDefault("log_level", "info")
}

func Load(v *viper.Viper) Config {
	cfg := Config{
		Port:                   v.GetString("port"),
		AllowedOrigin:          v.GetString("allowed_origin"),
		DatabaseURL:            strings.TrimSpace(v.GetString("database_url")),
		RedisAddr:              strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:          v.GetString("redis_password"),
		RedisDB:                v.GetInt("redis_db"),
		ChoiceCacheTTLSeconds:  positive(v.GetInt("choice_cache_ttl_seconds"), 6*60*60),
		AuthSecret:             strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes:  positive(v.GetInt("access_token_ttl_minutes"), 480),
		TimeZone:               strings.TrimSpace(v.GetString("timezone")),
		POSBaseURL:             strings.TrimRight(strings.TrimSpace(v.GetString("pos_base_url")), "/"),
		SpillageBaseURL:        strings.TrimRight(strings.TrimSpace(v.GetString("spillage_base_url")), "/"),
		InventoryBaseURL:       strings.TrimRight(strings.TrimSpace(v.GetString("inventory_base_url")), "/"),
		UpstreamTimeoutSeconds: positive(v.GetInt("upstream_timeout_seconds"), 10),
		UpstreamRetries:        v.GetInt("upstream_retries"),
		FormIdleTTLMinutes:     positive(v.GetInt("form_idle_ttl_minutes"), 30),
		ReconcileTimeoutSecs:   positive(v.GetInt("reconcile_timeout_seconds"), 15),
		LogLevel:               v.GetString("log_level"),
		ConfigFile:             v.ConfigFileUsed(),
	}
	if cfg.UpstreamRetries < 0 {
		cfg.UpstreamRetries = 0
	}
	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// UpstreamEnabled reports whether all three upstream services are configured.
func (c Config) UpstreamEnabled() bool {
	return c.POSBaseURL != "" && c.SpillageBaseURL != "" && c.InventoryBaseURL != ""
}

// Location is the zone calendar days are cut in. Empty means the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c Config) ChoiceCacheTTL() time.Duration {
	return time.Duration(c.ChoiceCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

func (c Config) FormIdleTTL() time.Duration {
	return time.Duration(c.FormIdleTTLMinutes) * time.Minute
}

func (c Config) ReconcileTimeout() time.Duration {
	return time.Duration(c.ReconcileTimeoutSecs) * time.Second
}

// Describe lists the effective settings with secrets masked.
func (c Config) Describe() []string {
	source := c.ConfigFile
	if source == "" {
		source = "(environment only)"
	}
	return []string{
		"config file: " + source,
		"listen: " + c.Address(),
		"allowed origin: " + c.AllowedOrigin,
		"database: " + mask(c.DatabaseURL),
		"redis: " + orNone(c.RedisAddr),
		"auth secret: " + mask(c.AuthSecret),
		"timezone: " + orNone(c.TimeZone),
		"pos upstream: " + orNone(c.POSBaseURL),
		"spillage upstream: " + orNone(c.SpillageBaseURL),
		"inventory upstream: " + orNone(c.InventoryBaseURL),
		fmt.Sprintf("upstream timeout: %s, retries: %d", c.UpstreamTimeout(), c.UpstreamRetries),
		"form idle ttl: " + c.FormIdleTTL().String(),
		"reconcile timeout: " + c.ReconcileTimeout().String(),
		"log level: " + c.LogLevel,
	}
}

// ConfigPath is where a default config file would live.
func ConfigPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultFileName+".yaml"), nil
}

func positive(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}

func mask(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "(set)"
}

func orNone(val string) string {
	if val == "" {
		return "(none)"
	}
	return val
}
