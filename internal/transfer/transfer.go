// Package transfer copies one remote file into the local mirror, skipping
// the download when the local copy already matches and verifying what was
// written.
package transfer

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/digest"
	"github.com/cbout22/fbsync/internal/mirror"
	"github.com/cbout22/fbsync/internal/remote"
	"github.com/cbout22/fbsync/internal/remotepath"
	"github.com/cbout22/fbsync/internal/report"
	"github.com/cbout22/fbsync/internal/retry"
)

// Executor downloads files from the remote store and writes them to the
// mirror.
type Executor struct {
	api     remote.API
	mirror  *mirror.Mirror
	retrier *retry.Retrier
	dryRun  bool
	log     *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDryRun makes the executor compare digests without writing anything.
func WithDryRun(on bool) Option {
	return func(x *Executor) { x.dryRun = on }
}

// WithLogger sets the logger for attempt diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(x *Executor) { x.log = log }
}

// New creates an Executor.
func New(api remote.API, m *mirror.Mirror, r *retry.Retrier, opts ...Option) *Executor {
	x := &Executor{
		api:     api,
		mirror:  m,
		retrier: r,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Result holds the outcome of transferring a single file.
type Result struct {
	Path     remotepath.Path
	Local    string
	Outcome  report.Outcome
	Detail   string // missing or stale, for downloaded and planned files
	Bytes    int64
	Attempts int
	Err      error
}

// Transfer brings the local copy of p up to date. It never returns an
// error directly: failures end up in Result.Err with Outcome failed.
func (x *Executor) Transfer(ctx context.Context, p remotepath.Path) Result {
	result := Result{Path: p}

	local, err := x.mirror.Path(p)
	if err != nil {
		result.Outcome = report.Failed
		result.Err = &digest.LocalIOError{Op: "map", Path: p.String(), Err: err}
		return result
	}
	result.Local = local

	attempts, err := x.retrier.Do(ctx, func(attempt int) error {
		a, err := x.attempt(ctx, p, local)
		if err != nil {
			if retry.IsRetryable(err) && attempt < x.retrier.Policy.MaxAttempts {
				x.log.Warn("transfer attempt failed, retrying",
					zap.Stringer("path", p), zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		}
		result.Outcome, result.Detail, result.Bytes = a.outcome, a.detail, a.bytes
		return nil
	})
	result.Attempts = attempts
	if err != nil {
		result.Outcome = report.Failed
		result.Err = err
		result.Bytes = 0
	}
	return result
}

type attemptResult struct {
	outcome report.Outcome
	detail  string
	bytes   int64
}

// attempt runs one pass of the state machine. The remote digest is fetched
// fresh every time.
func (x *Executor) attempt(ctx context.Context, p remotepath.Path, local string) (attemptResult, error) {
	want, err := digest.Remote(ctx, x.api, p)
	if err != nil {
		return attemptResult{}, err
	}

	detail := report.DetailMissing
	if x.mirror.Exists(local) {
		have, err := digest.Local(x.mirror.Fs(), local)
		if err != nil {
			return attemptResult{}, err
		}
		if digest.Matches(have, want) {
			return attemptResult{outcome: report.Unchanged}, nil
		}
		detail = report.DetailStale
	}

	if x.dryRun {
		return attemptResult{outcome: report.Planned, detail: detail}, nil
	}

	n, err := x.download(ctx, p, local, want)
	if err != nil {
		return attemptResult{}, err
	}
	if err := x.verify(p, local, want); err != nil {
		return attemptResult{}, err
	}
	return attemptResult{outcome: report.Downloaded, detail: detail, bytes: n}, nil
}

// download streams p into a temp file next to local, hashing in the same
// pass, and renames it into place only if the bytes match want.
func (x *Executor) download(ctx context.Context, p remotepath.Path, local string, want digest.Digest) (int64, error) {
	if _, err := x.mirror.EnsureDir(p.Parent()); err != nil {
		return 0, &digest.LocalIOError{Op: "mkdir", Path: local, Err: err}
	}

	body, err := x.api.FetchRaw(ctx, p)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := x.mirror.CreateTemp(local)
	if err != nil {
		return 0, &digest.LocalIOError{Op: "create", Path: local, Err: err}
	}
	tmpName := tmp.Name()
	closed, committed := false, false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if !committed {
			x.mirror.Remove(tmpName)
		}
	}()

	acc := digest.NewAccumulator()
	out := &errWriter{w: tmp}
	n, err := io.Copy(io.MultiWriter(out, acc), body)
	if err != nil {
		if out.err != nil {
			return 0, &digest.LocalIOError{Op: "write", Path: tmpName, Err: out.err}
		}
		return 0, remote.NetworkError("download", p.String(), err)
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return 0, &digest.LocalIOError{Op: "close", Path: tmpName, Err: err}
	}

	if got := acc.Sum(); !digest.Matches(got, want) {
		return 0, &digest.MismatchError{Path: p.String(), Want: want, Got: got}
	}

	if err := x.mirror.Commit(tmpName, local); err != nil {
		return 0, &digest.LocalIOError{Op: "rename", Path: local, Err: err}
	}
	committed = true
	return n, nil
}

// verify re-reads the committed file. A file that no longer matches is
// removed so the next attempt starts from a missing file.
func (x *Executor) verify(p remotepath.Path, local string, want digest.Digest) error {
	got, err := digest.Local(x.mirror.Fs(), local)
	if err != nil {
		return err
	}
	if digest.Matches(got, want) {
		return nil
	}
	if err := x.mirror.Remove(local); err != nil {
		x.log.Error("removing corrupt file", zap.String("local", local), zap.Error(err))
	}
	return &digest.MismatchError{Path: p.String(), Want: want, Got: got}
}

// errWriter remembers the first write error so a failed copy can be blamed
// on the local side or the network.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}
