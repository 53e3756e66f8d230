// Package config loads fbsync.toml and applies environment overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/cbout22/fbsync/internal/engine"
	"github.com/cbout22/fbsync/internal/logging"
	"github.com/cbout22/fbsync/internal/policy"
	"github.com/cbout22/fbsync/internal/remotepath"
	"github.com/cbout22/fbsync/internal/retry"
)

const DefaultConfigFile = "fbsync.toml"

// Environment variables that override the file.
const (
	EnvURL       = "FBSYNC_URL"
	EnvUsername  = "FBSYNC_USERNAME"
	EnvPassword  = "FBSYNC_PASSWORD"
	EnvLocalRoot = "FBSYNC_LOCAL_ROOT"
)

// Config represents the full fbsync.toml file.
type Config struct {
	Server Server `toml:"server"`
	Sync   Sync   `toml:"sync"`
	Retry  Retry  `toml:"retry"`
	Log    Log    `toml:"log"`
}

// Server is the File Browser instance to pull from.
type Server struct {
	URL      string   `toml:"url"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	Timeout  Duration `toml:"timeout"`
	Compress bool     `toml:"compress"`
}

// Sync describes what to mirror and where.
type Sync struct {
	LocalRoot    string `toml:"local_root"`
	RemoteRoot   string `toml:"remote_root"`
	SkipMarker   string `toml:"skip_marker"`
	ClassBMarker string `toml:"classb_marker"`
	Workers      int    `toml:"workers"`
	MaxDepth     int    `toml:"max_depth"`
}

// Retry is the attempt budget for remote operations.
type Retry struct {
	Attempts int      `toml:"attempts"`
	Delay    Duration `toml:"delay"`
}

// Log configures the diagnostic logger.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output,omitempty"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	p := retry.DefaultPolicy()
	return &Config{
		Server: Server{
			URL:      "http://localhost:8080",
			Username: "admin",
			Password: "admin",
			Timeout:  Duration{30 * time.Second},
			Compress: true,
		},
		Sync: Sync{
			LocalRoot:    "~/filebrowser-mirror",
			SkipMarker:   policy.DefaultSkipMarker,
			ClassBMarker: policy.DefaultClassBMarker,
			Workers:      1,
			MaxDepth:     engine.DefaultMaxDepth,
		},
		Retry: Retry{Attempts: p.MaxAttempts, Delay: Duration{p.Delay}},
		Log:   Log{Level: "info", Format: "console"},
	}
}

// Load reads and parses a config file from the given path, starting from
// the defaults. If the file does not exist the defaults are returned.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, c); err != nil {
			return nil, errors.Wrap(err, "parsing config")
		}
	case !os.IsNotExist(err):
		return nil, errors.Wrap(err, "reading config")
	}

	c.ApplyEnv()
	return c, nil
}

// ApplyEnv overrides fields from FBSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	for env, field := range map[string]*string{
		EnvURL:       &c.Server.URL,
		EnvUsername:  &c.Server.Username,
		EnvPassword:  &c.Server.Password,
		EnvLocalRoot: &c.Sync.LocalRoot,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Server.URL) == "":
		return errors.New("server.url is required")
	case !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://"):
		return errors.Errorf("server.url %q must start with http:// or https://", c.Server.URL)
	case strings.TrimSpace(c.Sync.LocalRoot) == "":
		return errors.New("sync.local_root is required")
	case c.Sync.SkipMarker == "" || c.Sync.ClassBMarker == "":
		return errors.New("sync.skip_marker and sync.classb_marker must not be empty")
	case c.Sync.SkipMarker == c.Sync.ClassBMarker:
		return errors.Errorf("sync.skip_marker and sync.classb_marker are both %q", c.Sync.SkipMarker)
	case c.Sync.Workers < 1:
		return errors.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	case c.Sync.MaxDepth < 1:
		return errors.Errorf("sync.max_depth must be at least 1, got %d", c.Sync.MaxDepth)
	case c.Retry.Attempts < 1:
		return errors.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	case c.Retry.Delay.Duration < 0:
		return errors.Errorf("retry.delay must not be negative, got %s", c.Retry.Delay)
	case c.Server.Timeout.Duration < 0:
		return errors.Errorf("server.timeout must not be negative, got %s", c.Server.Timeout)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating config file")
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		f.Close()
		return errors.Wrap(err, "encoding config")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "writing config file")
	}
	return nil
}

// LocalRootPath returns sync.local_root with a leading ~ expanded.
func (c *Config) LocalRootPath() (string, error) {
	p, err := homedir.Expand(c.Sync.LocalRoot)
	if err != nil {
		return "", errors.Wrapf(err, "expanding %q", c.Sync.LocalRoot)
	}
	return p, nil
}

// Markers returns the configured control marker names.
func (c *Config) Markers() policy.Markers {
	return policy.Markers{Skip: c.Sync.SkipMarker, ClassB: c.Sync.ClassBMarker}
}

// RetryPolicy returns the configured attempt budget.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Retry.Attempts, Delay: c.Retry.Delay.Duration}
}

// Engine returns the traversal settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		Root:     remotepath.Normalize(c.Sync.RemoteRoot),
		Markers:  c.Markers(),
		Workers:  c.Sync.Workers,
		MaxDepth: c.Sync.MaxDepth,
	}
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, OutputPath: c.Log.Output}
}
