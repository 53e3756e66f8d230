package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cbout22/fbsync/internal/policy"
	"github.com/cbout22/fbsync/internal/remotepath"
)

// --- helpers ---

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{EnvURL, EnvUsername, EnvPassword, EnvLocalRoot} {
		t.Setenv(env, "")
	}
}

// --- Load ---

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Retry.Attempts != 3 || c.Retry.Delay.Duration != 5*time.Second {
		t.Errorf("retry defaults = %+v, want 3 attempts / 5s", c.Retry)
	}
	if c.Sync.SkipMarker != "set.skip" || c.Sync.ClassBMarker != "set.classB" {
		t.Errorf("marker defaults = %q / %q", c.Sync.SkipMarker, c.Sync.ClassBMarker)
	}
	if c.Sync.Workers != 1 || c.Sync.MaxDepth != 256 {
		t.Errorf("sync defaults = %+v", c.Sync)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeTempFile(t, "fbsync.toml", `
[server]
url = "https://files.example.com"
username = "sync"
password = "s3cret"
timeout = "1m30s"
compress = false

[sync]
local_root = "/srv/mirror"
remote_root = "/projects/2024/"
workers = 4

[retry]
attempts = 5
delay = "250ms"

[log]
level = "debug"
format = "json"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.URL != "https://files.example.com" || c.Server.Compress {
		t.Errorf("server = %+v", c.Server)
	}
	if c.Server.Timeout.Duration != 90*time.Second {
		t.Errorf("timeout = %s", c.Server.Timeout)
	}
	if c.Sync.SkipMarker != "set.skip" {
		t.Errorf("unset keys keep their defaults, got skip marker %q", c.Sync.SkipMarker)
	}

	e := c.Engine()
	if e.Root != remotepath.Path("projects/2024") || e.Workers != 4 || e.MaxDepth != 256 {
		t.Errorf("Engine() = %+v", e)
	}
	p := c.RetryPolicy()
	if p.MaxAttempts != 5 || p.Delay != 250*time.Millisecond {
		t.Errorf("RetryPolicy() = %+v", p)
	}
	if l := c.Logging(); l.Level != "debug" || l.Format != "json" {
		t.Errorf("Logging() = %+v", l)
	}
}

func TestLoad_ParseErrors(t *testing.T) {
	clearEnv(t)
	for name, content := range map[string]string{
		"syntax":   "[server\nurl = 1",
		"duration": "[retry]\ndelay = \"soon\"",
	} {
		_, err := Load(writeTempFile(t, name+".toml", content))
		if err == nil || !strings.Contains(err.Error(), "parsing config") {
			t.Errorf("%s: expected parse error, got %v", name, err)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvURL, "http://env:8080")
	t.Setenv(EnvPassword, "from-env")
	t.Setenv(EnvLocalRoot, "/env/root")

	c, err := Load(writeTempFile(t, "fbsync.toml", "[server]\nurl = \"http://file\"\npassword = \"file\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.URL != "http://env:8080" || c.Server.Password != "from-env" || c.Sync.LocalRoot != "/env/root" {
		t.Errorf("env overrides not applied: %+v %+v", c.Server, c.Sync)
	}
	if c.Server.Username != "admin" {
		t.Errorf("unset env must not override, got username %q", c.Server.Username)
	}
}

// --- Validate ---

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty url", func(c *Config) { c.Server.URL = "" }, "server.url is required"},
		{"bad scheme", func(c *Config) { c.Server.URL = "ftp://x" }, "must start with http"},
		{"empty root", func(c *Config) { c.Sync.LocalRoot = " " }, "sync.local_root is required"},
		{"same markers", func(c *Config) { c.Sync.ClassBMarker = c.Sync.SkipMarker }, "are both"},
		{"empty marker", func(c *Config) { c.Sync.SkipMarker = "" }, "must not be empty"},
		{"workers", func(c *Config) { c.Sync.Workers = 0 }, "sync.workers"},
		{"depth", func(c *Config) { c.Sync.MaxDepth = 0 }, "sync.max_depth"},
		{"attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"delay", func(c *Config) { c.Retry.Delay.Duration = -time.Second }, "retry.delay"},
		{"level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
	}
	for _, tc := range cases {
		c := Default()
		tc.mutate(c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: Validate() = %v, want error containing %q", tc.name, err, tc.want)
		}
	}
}

// --- Save ---

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	c := Default()
	c.Sync.Workers = 3
	c.Sync.ClassBMarker = ".mirror"
	c.Retry.Delay.Duration = 2 * time.Second

	path := filepath.Join(t.TempDir(), "fbsync.toml")
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `delay = "2s"`) {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Sync.Workers != 3 || loaded.Retry.Delay.Duration != 2*time.Second {
		t.Errorf("round trip lost values: %+v %+v", loaded.Sync, loaded.Retry)
	}
	if got := loaded.Markers(); got != (policy.Markers{Skip: "set.skip", ClassB: ".mirror"}) {
		t.Errorf("Markers() = %+v", got)
	}
}

func TestSave_ReportsWriteFailure(t *testing.T) {
	t.Parallel()
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	if err := Default().Save("/dev/full"); err == nil {
		t.Fatal("Save to a full device should fail")
	}
}

func TestSave_MissingDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "missing", "fbsync.toml")
	if err := Default().Save(path); err == nil {
		t.Fatal("Save into a missing directory should fail")
	}
}

// --- LocalRootPath ---

func TestLocalRootPath_ExpandsHome(t *testing.T) {
	t.Parallel()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	c := Default()
	c.Sync.LocalRoot = "~/mirror"
	got, err := c.LocalRootPath()
	if err != nil {
		t.Fatalf("LocalRootPath: %v", err)
	}
	if got != filepath.Join(home, "mirror") {
		t.Errorf("LocalRootPath() = %q, want %q", got, filepath.Join(home, "mirror"))
	}

	c.Sync.LocalRoot = "/abs/path"
	if got, _ := c.LocalRootPath(); got != "/abs/path" {
		t.Errorf("absolute paths are unchanged, got %q", got)
	}
}
