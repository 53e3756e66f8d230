package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/auth"
	"github.com/cbout22/fbsync/internal/config"
	"github.com/cbout22/fbsync/internal/digest"
	"github.com/cbout22/fbsync/internal/engine"
	"github.com/cbout22/fbsync/internal/mirror"
	"github.com/cbout22/fbsync/internal/remote"
	"github.com/cbout22/fbsync/internal/report"
	"github.com/cbout22/fbsync/internal/retry"
	"github.com/cbout22/fbsync/internal/transfer"
)

// session is everything one command needs to talk to the server.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	retrier *retry.Retrier
	token   auth.Token
	api     *remote.Client
}

// openSession authenticates against the configured server. A token from
// FBSYNC_TOKEN is used as is.
func openSession(ctx context.Context, cfg *config.Config, log *zap.Logger) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	r := retry.New(cfg.RetryPolicy())
	r.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Debug("retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}

	token, fromEnv := auth.EnvToken()
	if fromEnv {
		log.Debug("using token from environment", zap.String("env", auth.TokenEnvVar))
	} else {
		var err error
		token, err = auth.Login(ctx, &http.Client{Timeout: cfg.Server.Timeout.Duration}, cfg.Server.URL,
			auth.Credentials{Username: cfg.Server.Username, Password: cfg.Server.Password}, r)
		if err != nil {
			return nil, err
		}
	}

	client := auth.NewHTTPClient(token, cfg.Server.Timeout.Duration)
	api := remote.New(cfg.Server.URL, client,
		remote.WithCompression(cfg.Server.Compress),
		remote.WithLogger(log.Named("remote")))

	return &session{cfg: cfg, log: log, retrier: r, token: token, api: api}, nil
}

// passOptions select what a single engine pass does besides mirroring.
type passOptions struct {
	dryRun  bool
	verbose bool
	sinks   []report.Sink
}

// runPass takes the run lock, walks the tree once and prints a per-path
// log plus a summary to out.
func (s *session) runPass(ctx context.Context, out io.Writer, opts passOptions) (engine.Result, error) {
	localRoot, err := s.cfg.LocalRootPath()
	if err != nil {
		return engine.Result{}, err
	}

	lock, err := acquireLock(localRoot)
	if err != nil {
		return engine.Result{}, err
	}
	defer lock.Unlock()

	m := mirror.NewOS(localRoot)
	x := transfer.New(s.api, m, s.retrier,
		transfer.WithDryRun(opts.dryRun),
		transfer.WithLogger(s.log.Named("transfer")))

	ecfg := s.cfg.Engine()
	ecfg.DryRun = opts.dryRun
	sinks := append([]report.Sink{newConsole(out, opts.verbose)}, opts.sinks...)
	eng := engine.New(s.api, m, x, ecfg,
		engine.WithSink(report.Multi(sinks...)),
		engine.WithLogger(s.log.Named("engine")))

	return eng.Run(ctx), nil
}

// lockPath returns a per-mirror lock file in the OS temp dir, so the lock
// never shows up inside the mirror itself.
func lockPath(localRoot string) string {
	abs, err := filepath.Abs(localRoot)
	if err != nil {
		abs = localRoot
	}
	sum := digest.Bytes([]byte(abs)).Hex
	return filepath.Join(os.TempDir(), fmt.Sprintf("fbsync-%s.lock", sum[:16]))
}

// acquireLock fails fast when another run is mirroring into localRoot.
func acquireLock(localRoot string) (*flock.Flock, error) {
	fl := flock.New(lockPath(localRoot))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "locking %s", fl.Path())
	}
	if !ok {
		return nil, errors.Errorf("another fbsync run is already mirroring into %s", localRoot)
	}
	return fl, nil
}
