package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/auth"
	"github.com/cbout22/fbsync/internal/config"
	"github.com/cbout22/fbsync/internal/fakeserver"
	"github.com/cbout22/fbsync/internal/report"
)

// setupServer starts a File Browser double with one skipped, one classB and
// one plain directory, plus a config pointing at it.
func setupServer(t *testing.T) (*fakeserver.Server, *config.Config) {
	t.Helper()
	t.Setenv(auth.TokenEnvVar, "")

	srv := fakeserver.New()
	t.Cleanup(srv.Close)
	srv.AddFile("/a/set.skip", nil)
	srv.AddFile("/a/x.txt", []byte("skipped"))
	srv.AddFile("/b/set.classB", nil)
	srv.AddFile("/b/y.txt", []byte("class b content\n"))
	srv.AddFile("/b/deep/w.txt", []byte("deep\n"))
	srv.AddFile("/c/z.txt", []byte("not selected"))

	cfg := config.Default()
	cfg.Server.URL = srv.URL
	cfg.Server.Timeout = config.Duration{Duration: 5 * time.Second}
	cfg.Sync.LocalRoot = t.TempDir()
	cfg.Retry.Delay = config.Duration{}
	return srv, cfg
}

func localFile(cfg *config.Config, rel string) string {
	return filepath.Join(cfg.Sync.LocalRoot, filepath.FromSlash(rel))
}

func TestSyncCmd_Success(t *testing.T) {
	_, cfg := setupServer(t)
	var out bytes.Buffer

	if err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &out); err != nil {
		t.Fatalf("runSyncWith: unexpected error: %v", err)
	}

	data, err := os.ReadFile(localFile(cfg, "b/y.txt"))
	if err != nil {
		t.Fatalf("reading synced file: %v", err)
	}
	if string(data) != "class b content\n" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(localFile(cfg, "b/deep/w.txt")); err != nil {
		t.Errorf("nested file was not synced: %v", err)
	}
	for _, rel := range []string{"a/x.txt", "c/z.txt"} {
		if _, err := os.Stat(localFile(cfg, rel)); !os.IsNotExist(err) {
			t.Errorf("%s should not be synced", rel)
		}
	}

	s := out.String()
	if !strings.Contains(s, "b/y.txt") || !strings.Contains(s, "new") {
		t.Errorf("expected download line in output, got:\n%s", s)
	}
	if !strings.Contains(s, "Local mirror is up to date") {
		t.Errorf("expected success line in output, got:\n%s", s)
	}
}

func TestSyncCmd_Idempotent(t *testing.T) {
	srv, cfg := setupServer(t)

	if err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &bytes.Buffer{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	first := srv.TotalHits(fakeserver.OpRaw)

	var out bytes.Buffer
	if err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &out); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if got := srv.TotalHits(fakeserver.OpRaw); got != first {
		t.Errorf("second sync downloaded %d more files", got-first)
	}
	if !strings.Contains(out.String(), "0 downloaded") {
		t.Errorf("expected nothing downloaded, got:\n%s", out.String())
	}
}

func TestSyncCmd_WritesReportAndMetrics(t *testing.T) {
	_, cfg := setupServer(t)
	dir := t.TempDir()
	opts := syncOptions{
		reportPath:  filepath.Join(dir, "report.json"),
		metricsPath: filepath.Join(dir, "fbsync.prom"),
	}

	if err := runSyncWith(context.Background(), cfg, zap.NewNop(), opts, &bytes.Buffer{}); err != nil {
		t.Fatalf("runSyncWith: %v", err)
	}

	doc, err := report.LoadDocument(opts.reportPath)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if doc.Status != report.StatusCompleted {
		t.Errorf("status = %q, want completed", doc.Status)
	}
	entry, ok := doc.Get("/b/y.txt")
	if !ok {
		t.Fatal("report has no entry for /b/y.txt")
	}
	if entry.Outcome != report.Downloaded {
		t.Errorf("outcome = %q, want downloaded", entry.Outcome)
	}
	if entry, ok := doc.Get("/a"); !ok || entry.Outcome != report.Skipped {
		t.Errorf("/a entry = %+v, want skipped", entry)
	}

	metrics, err := os.ReadFile(opts.metricsPath)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	for _, name := range []string{"fbsync_paths_total", "fbsync_bytes_downloaded_total", "fbsync_last_run_status"} {
		if !strings.Contains(string(metrics), name) {
			t.Errorf("metrics file is missing %s", name)
		}
	}
}

func TestSyncCmd_FailedFile(t *testing.T) {
	srv, cfg := setupServer(t)
	srv.FailNext(fakeserver.OpRaw, "/b/y.txt", 10, 500)

	var out bytes.Buffer
	err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &out)
	if err == nil {
		t.Fatal("expected error for failed file, got nil")
	}
	if !strings.Contains(err.Error(), "1 failed") {
		t.Errorf("error = %q, want failed count", err)
	}
	if _, err := os.Stat(localFile(cfg, "b/deep/w.txt")); err != nil {
		t.Errorf("other files should still be synced: %v", err)
	}
	if got := srv.Hits(fakeserver.OpRaw, "/b/y.txt"); got != 3 {
		t.Errorf("raw hits = %d, want 3 attempts", got)
	}
}

func TestSyncCmd_AuthAbort(t *testing.T) {
	srv, cfg := setupServer(t)
	srv.FailNext(fakeserver.OpList, "/b", 1, 401)

	err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "aborted") {
		t.Fatalf("expected aborted error, got %v", err)
	}
}

func TestSyncCmd_BadCredentials(t *testing.T) {
	_, cfg := setupServer(t)
	cfg.Server.Password = "wrong"

	if err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected login error, got nil")
	}
}

func TestSyncCmd_InvalidConfig(t *testing.T) {
	_, cfg := setupServer(t)
	cfg.Sync.Workers = 0

	err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestSyncCmd_LockHeld(t *testing.T) {
	_, cfg := setupServer(t)

	lock, err := acquireLock(cfg.Sync.LocalRoot)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	defer lock.Unlock()

	err = runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "already mirroring") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
}

func TestCheckCmd_BeforeAndAfterSync(t *testing.T) {
	_, cfg := setupServer(t)

	var out bytes.Buffer
	if err := runCheckWith(context.Background(), cfg, zap.NewNop(), false, &out); err != nil {
		t.Fatalf("non-strict check should not fail: %v", err)
	}
	if !strings.Contains(out.String(), "missing") {
		t.Errorf("expected missing files, got:\n%s", out.String())
	}
	if _, err := os.Stat(localFile(cfg, "b")); !os.IsNotExist(err) {
		t.Error("check must not create anything in the local root")
	}

	if err := runCheckWith(context.Background(), cfg, zap.NewNop(), true, &bytes.Buffer{}); err == nil {
		t.Fatal("strict check should fail before sync")
	}

	if err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &bytes.Buffer{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	out.Reset()
	if err := runCheckWith(context.Background(), cfg, zap.NewNop(), true, &out); err != nil {
		t.Fatalf("strict check after sync: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "in sync") {
		t.Errorf("expected in-sync line, got:\n%s", out.String())
	}
}

func TestCheckCmd_Stale(t *testing.T) {
	srv, cfg := setupServer(t)
	if err := runSyncWith(context.Background(), cfg, zap.NewNop(), syncOptions{}, &bytes.Buffer{}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	srv.AddFile("/b/y.txt", []byte("changed upstream\n"))

	var out bytes.Buffer
	if err := runCheckWith(context.Background(), cfg, zap.NewNop(), false, &out); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out.String(), "stale") {
		t.Errorf("expected stale file, got:\n%s", out.String())
	}
	data, _ := os.ReadFile(localFile(cfg, "b/y.txt"))
	if string(data) != "class b content\n" {
		t.Errorf("check must not rewrite files, got %q", data)
	}
}

func TestLoginCmd(t *testing.T) {
	srv, cfg := setupServer(t)

	var out bytes.Buffer
	if err := runLoginWith(context.Background(), cfg, zap.NewNop(), false, &out); err != nil {
		t.Fatalf("runLoginWith: %v", err)
	}
	if !strings.Contains(out.String(), "Logged in") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
	if strings.Contains(out.String(), srv.Token()) {
		t.Errorf("token should be redacted:\n%s", out.String())
	}

	out.Reset()
	if err := runLoginWith(context.Background(), cfg, zap.NewNop(), true, &out); err != nil {
		t.Fatalf("runLoginWith(print): %v", err)
	}
	if !strings.Contains(out.String(), auth.TokenEnvVar+"="+srv.Token()) {
		t.Errorf("expected export line, got:\n%s", out.String())
	}
}

func TestLoginCmd_EnvToken(t *testing.T) {
	srv, cfg := setupServer(t)
	cfg.Server.Password = "wrong"
	t.Setenv(auth.TokenEnvVar, srv.Token())

	if err := runLoginWith(context.Background(), cfg, zap.NewNop(), false, &bytes.Buffer{}); err != nil {
		t.Fatalf("env token should bypass login: %v", err)
	}
	if got := srv.TotalHits(fakeserver.OpLogin); got != 0 {
		t.Errorf("login hits = %d, want 0", got)
	}
}

func TestInitCmd(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fbsync.toml")

	if err := runInit(path, false, &bytes.Buffer{}); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.ClassBMarker != "set.classB" {
		t.Errorf("classb marker = %q", cfg.Sync.ClassBMarker)
	}

	if err := runInit(path, false, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error when config exists")
	}
	if err := runInit(path, true, &bytes.Buffer{}); err != nil {
		t.Fatalf("runInit(force): %v", err)
	}
}

func TestRootCmd_FlagOverrides(t *testing.T) {
	_, cfg := setupServer(t)
	configPath := filepath.Join(t.TempDir(), "fbsync.toml")
	localRoot := cfg.Sync.LocalRoot
	cfg.Sync.LocalRoot = "/nonexistent/should/be/overridden"
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{
		"sync",
		"--config", configPath,
		"--log-level", "error",
		"--local-root", localRoot,
		"--remote-root", "/b",
		"--workers", "2",
	})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v\n%s", err, out.String())
	}

	if _, err := os.Stat(filepath.Join(localRoot, "b", "y.txt")); err != nil {
		t.Errorf("expected /b/y.txt under the overridden local root: %v", err)
	}
}
