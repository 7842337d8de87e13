package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tweetgraph/internal/errs"
)

// EnvProfile names the API profile assembled from environment variables.
const EnvProfile = "env"

// Config is the profile file: named database URLs and API credential sets.
type Config struct {
	DatabaseProfiles map[string]DatabaseProfile `yaml:"database_profiles"`
	DefaultDatabase  string                     `yaml:"default_database"`
	APIProfiles      map[string]APIProfile      `yaml:"api_profiles"`
	Pool             PoolConfig                 `yaml:"pool"`
	Metrics          MetricsConfig              `yaml:"metrics"`
}

type DatabaseProfile struct {
	URL string `yaml:"url"`
}

// APIProfile is one credential set. Without a token the app-only bearer
// flow is used.
type APIProfile struct {
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	Token          string `yaml:"token,omitempty"`
	TokenSecret    string `yaml:"token_secret,omitempty"`
}

type PoolConfig struct {
	// CapacitySleep is how long to wait before retrying a service error.
	CapacitySleep   time.Duration `yaml:"capacity_sleep"`
	CapacityRetries int           `yaml:"capacity_retries"`
	// RequestsPerSecond paces every session; 0 keeps the session default.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns an empty configuration with the pool defaults.
func Default() Config {
	return Config{
		DatabaseProfiles: map[string]DatabaseProfile{},
		APIProfiles:      map[string]APIProfile{},
		Pool:             PoolConfig{CapacitySleep: 60 * time.Second, CapacityRetries: 10, Burst: 1},
	}
}

// DefaultPath is ~/.tweetgraph.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tweetgraph.yaml"
	}
	return filepath.Join(home, ".tweetgraph.yaml")
}

// ResolveEnv loads .env if present, then fills unset fields from
// TWEETGRAPH_* variables. Env credentials become the "env" API profile and
// an env database URL becomes the default database when none is set.
func (c *Config) ResolveEnv() {
	_ = godotenv.Load()
	if c.DatabaseProfiles == nil {
		c.DatabaseProfiles = map[string]DatabaseProfile{}
	}
	if c.APIProfiles == nil {
		c.APIProfiles = map[string]APIProfile{}
	}
	if url := os.Getenv("TWEETGRAPH_DATABASE_URL"); url != "" {
		if _, ok := c.DatabaseProfiles[EnvProfile]; !ok {
			c.DatabaseProfiles[EnvProfile] = DatabaseProfile{URL: url}
		}
		if c.DefaultDatabase == "" {
			c.DefaultDatabase = EnvProfile
		}
	}
	if key := os.Getenv("TWEETGRAPH_CONSUMER_KEY"); key != "" {
		if _, ok := c.APIProfiles[EnvProfile]; !ok {
			c.APIProfiles[EnvProfile] = APIProfile{
				ConsumerKey:    key,
				ConsumerSecret: os.Getenv("TWEETGRAPH_CONSUMER_SECRET"),
				Token:          os.Getenv("TWEETGRAPH_TOKEN"),
				TokenSecret:    os.Getenv("TWEETGRAPH_TOKEN_SECRET"),
			}
		}
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = os.Getenv("TWEETGRAPH_METRICS_ADDR")
	}
	if v, err := strconv.Atoi(os.Getenv("TWEETGRAPH_CAPACITY_RETRIES")); err == nil && v >= 0 {
		c.Pool.CapacityRetries = v
	}
}

// Validate reports a bad_config error for a self-contradictory file.
func (c *Config) Validate() error {
	if c.DefaultDatabase != "" {
		if _, ok := c.DatabaseProfiles[c.DefaultDatabase]; !ok {
			return errs.BadConfig("default database %q is not a database profile", c.DefaultDatabase)
		}
	}
	if len(c.DatabaseProfiles) > 0 && c.DefaultDatabase == "" {
		return errs.BadConfig("database profiles exist but no default database is set")
	}
	for name, p := range c.DatabaseProfiles {
		if p.URL == "" {
			return errs.BadConfig("database profile %q has no url", name)
		}
	}
	for name, p := range c.APIProfiles {
		if err := p.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (p APIProfile) validate(name string) error {
	if p.ConsumerKey == "" || p.ConsumerSecret == "" {
		return errs.BadConfig("api profile %q needs a consumer key and secret", name)
	}
	if (p.Token == "") != (p.TokenSecret == "") {
		return errs.BadConfig("api profile %q must give both token and token secret or neither", name)
	}
	return nil
}

// DatabaseURL returns the URL of the named profile, or of the default
// profile when name is empty.
func (c *Config) DatabaseURL(name string) (string, error) {
	if name == "" {
		name = c.DefaultDatabase
	}
	if name == "" {
		return "", errs.BadConfig("no database profile given and no default set")
	}
	p, ok := c.DatabaseProfiles[name]
	if !ok {
		return "", errs.BadConfig("unknown database profile %q", name)
	}
	return p.URL, nil
}

// SelectAPIProfiles returns the named API profiles, or all of them sorted
// by name when names is empty.
func (c *Config) SelectAPIProfiles(names []string) ([]APIProfile, error) {
	if len(names) == 0 {
		names = c.APIProfileNames()
	}
	if len(names) == 0 {
		return nil, errs.BadConfig("no api profiles configured")
	}
	out := make([]APIProfile, 0, len(names))
	for _, n := range names {
		p, ok := c.APIProfiles[n]
		if !ok {
			return nil, errs.BadConfig("unknown api profile %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Config) APIProfileNames() []string { return sortedKeys(c.APIProfiles) }

func (c *Config) DatabaseProfileNames() []string { return sortedKeys(c.DatabaseProfiles) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AddDatabase adds a profile; the first one added becomes the default.
func (c *Config) AddDatabase(name, url string) error {
	if _, ok := c.DatabaseProfiles[name]; ok {
		return errs.BadConfig("database profile %q already exists", name)
	}
	if url == "" {
		return errs.BadConfig("database profile %q needs a url", name)
	}
	if c.DatabaseProfiles == nil {
		c.DatabaseProfiles = map[string]DatabaseProfile{}
	}
	c.DatabaseProfiles[name] = DatabaseProfile{URL: url}
	if c.DefaultDatabase == "" {
		c.DefaultDatabase = name
	}
	return nil
}

// RemoveDatabase deletes a profile. The default cannot be removed while
// other profiles remain.
func (c *Config) RemoveDatabase(name string) error {
	if _, ok := c.DatabaseProfiles[name]; !ok {
		return errs.BadConfig("unknown database profile %q", name)
	}
	if name == c.DefaultDatabase && len(c.DatabaseProfiles) > 1 {
		return errs.BadConfig("database profile %q is the default; set another default first", name)
	}
	delete(c.DatabaseProfiles, name)
	if name == c.DefaultDatabase {
		c.DefaultDatabase = ""
	}
	return nil
}

func (c *Config) SetDefaultDatabase(name string) error {
	if _, ok := c.DatabaseProfiles[name]; !ok {
		return errs.BadConfig("unknown database profile %q", name)
	}
	c.DefaultDatabase = name
	return nil
}

func (c *Config) AddAPI(name string, p APIProfile) error {
	if _, ok := c.APIProfiles[name]; ok {
		return errs.BadConfig("api profile %q already exists", name)
	}
	if err := p.validate(name); err != nil {
		return err
	}
	if c.APIProfiles == nil {
		c.APIProfiles = map[string]APIProfile{}
	}
	c.APIProfiles[name] = p
	return nil
}

func (c *Config) RemoveAPI(name string) error {
	if _, ok := c.APIProfiles[name]; !ok {
		return errs.BadConfig("unknown api profile %q", name)
	}
	delete(c.APIProfiles, name)
	return nil
}

// Masked returns p with secrets replaced, for display.
func (p APIProfile) Masked() APIProfile {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	p.ConsumerSecret = mask(p.ConsumerSecret)
	p.Token = mask(p.Token)
	p.TokenSecret = mask(p.TokenSecret)
	return p
}

// Load reads YAML config from path. A missing file yields the defaults.
// Environment overrides are not applied; see ResolveEnv.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errs.BadConfig("parse %s: %v", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed. The
// file holds credentials, so it is private to the user.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
