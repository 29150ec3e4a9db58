package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// State token strategies.
const (
	StateStrategyStore  = "store"
	StateStrategySigned = "signed"
)

// Proxy access modes.
const (
	ProxyAuthHeader       = "header"
	ProxyAuthSessionToken = "session_token"
)

// Config is the process configuration. Values come from an optional YAML file
// (CONFIG_FILE) and are then overridden by environment variables.
type Config struct {
	Port        string   `yaml:"port"`
	Shop        string   `yaml:"shop"`
	APIVersion  string   `yaml:"api_version"`
	APIKey      string   `yaml:"api_key"`
	APISecret   string   `yaml:"api_secret"`
	AppURL      string   `yaml:"app_url"`
	Scopes      string   `yaml:"scopes"`
	LocationIDs []string `yaml:"location_ids"`
	AdminToken  string   `yaml:"admin_token"`

	StateStrategy   string        `yaml:"state_strategy"`
	StateStore      string        `yaml:"state_store"`
	StateSQLitePath string        `yaml:"state_sqlite_path"`
	StateTTL        time.Duration `yaml:"state_ttl"`
	StateConsume    bool          `yaml:"state_consume"`

	RedisURL           string        `yaml:"redis_url"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval"`

	HMACEncoding    string        `yaml:"hmac_encoding"`
	ProxyAuth       string        `yaml:"proxy_auth"`
	AppProxyVerify  bool          `yaml:"app_proxy_verify"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		Port:            "8080",
		APIVersion:      "2024-10",
		Scopes:          "read_inventory,read_products,read_locations",
		StateStrategy:   StateStrategySigned,
		StateStore:      "memory",
		StateSQLitePath: "./state.db",
		CacheTTL:        60 * time.Second,
		HMACEncoding:    "delimiters",
		ProxyAuth:       ProxyAuthHeader,
		UpstreamTimeout: 15 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads CONFIG_FILE (if set) and the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an injectable environment lookup.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path := getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.Shop = strings.ToLower(strings.TrimSpace(cfg.Shop))
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("SHOPIFY_SHOP", &c.Shop)
	str("SHOPIFY_API_VERSION", &c.APIVersion)
	str("SHOPIFY_API_KEY", &c.APIKey)
	str("SHOPIFY_API_SECRET", &c.APISecret)
	str("APP_URL", &c.AppURL)
	str("SHOPIFY_SCOPES", &c.Scopes)
	str("SHOPIFY_ADMIN_TOKEN", &c.AdminToken)
	str("STATE_STRATEGY", &c.StateStrategy)
	str("STATE_STORE", &c.StateStore)
	str("STATE_SQLITE_PATH", &c.StateSQLitePath)
	str("REDIS_URL", &c.RedisURL)
	str("HMAC_ENCODING", &c.HMACEncoding)
	str("PROXY_AUTH", &c.ProxyAuth)
	str("LOG_LEVEL", &c.LogLevel)

	if v := getenv("LOCATION_IDS"); strings.TrimSpace(v) != "" {
		c.LocationIDs = SplitList(v)
	}

	var errs []error
	dur := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	dur("STATE_TTL", &c.StateTTL)
	dur("CACHE_TTL", &c.CacheTTL)
	dur("CACHE_SWEEP_INTERVAL", &c.CacheSweepInterval)
	dur("UPSTREAM_TIMEOUT", &c.UpstreamTimeout)

	boolean := func(key string, dst *bool) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
	boolean("STATE_CONSUME", &c.StateConsume)
	boolean("APP_PROXY_VERIFY", &c.AppProxyVerify)
	return errors.Join(errs...)
}

// Validate checks settings required to start the server. OAuth settings are
// not required here: /auth/install reports them as unconfigured per request.
func (c *Config) Validate() error {
	var errs []error
	if c.Shop == "" {
		errs = append(errs, errors.New("SHOPIFY_SHOP is required"))
	}
	switch c.StateStrategy {
	case StateStrategyStore:
	case StateStrategySigned:
		if c.APISecret == "" {
			errs = append(errs, errors.New("SHOPIFY_API_SECRET is required for the signed state strategy"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_STRATEGY %q", c.StateStrategy))
	}
	switch c.StateStore {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_STORE %q", c.StateStore))
	}
	switch c.ProxyAuth {
	case ProxyAuthHeader:
	case ProxyAuthSessionToken:
		if c.APISecret == "" || c.APIKey == "" {
			errs = append(errs, errors.New("SHOPIFY_API_KEY and SHOPIFY_API_SECRET are required for session token auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PROXY_AUTH %q", c.ProxyAuth))
	}
	if c.AppProxyVerify && c.APISecret == "" {
		errs = append(errs, errors.New("SHOPIFY_API_SECRET is required when APP_PROXY_VERIFY is set"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// OAuthConfigured reports whether the install flow can run.
func (c *Config) OAuthConfigured() bool {
	return c.APIKey != "" && c.APISecret != "" && c.AppURL != ""
}

// SplitList splits a comma separated list, trimming blanks.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
