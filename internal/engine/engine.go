// Package engine walks the remote tree, applies the directory policies and
// hands the files of download-all subtrees to the transfer executor.
//
// The walk is depth-first in listing order and uses an explicit stack of
// directory frames, so tree depth never grows the goroutine stack. Transfers
// run on a bounded worker pool. A directory that cannot be listed is skipped,
// a file that cannot be transferred is marked failed, and only an
// authorization failure stops the run.
package engine

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cbout22/fbsync/internal/mirror"
	"github.com/cbout22/fbsync/internal/policy"
	"github.com/cbout22/fbsync/internal/remote"
	"github.com/cbout22/fbsync/internal/remotepath"
	"github.com/cbout22/fbsync/internal/report"
	"github.com/cbout22/fbsync/internal/transfer"
)

// DefaultMaxDepth bounds how deep the walk descends below the start path.
const DefaultMaxDepth = 256

// Config controls a run.
type Config struct {
	Root     remotepath.Path // where the walk starts
	Markers  policy.Markers
	Workers  int // concurrent transfers, at least 1
	MaxDepth int
	DryRun   bool // do not create local directories
}

// Transferrer brings one remote file up to date locally.
type Transferrer interface {
	Transfer(ctx context.Context, p remotepath.Path) transfer.Result
}

// Engine runs sync passes.
type Engine struct {
	api      remote.API
	mirror   *mirror.Mirror
	transfer Transferrer
	cfg      Config
	sink     report.Sink
	log      *zap.Logger
	clock    clockwork.Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets where outcome events go.
func WithSink(s report.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock sets the clock used to timestamp events.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an Engine.
func New(api remote.API, m *mirror.Mirror, t Transferrer, cfg Config, opts ...Option) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Markers == (policy.Markers{}) {
		cfg.Markers = policy.DefaultMarkers()
	}
	e := &Engine{
		api:      api,
		mirror:   m,
		transfer: t,
		cfg:      cfg,
		sink:     report.Discard,
		log:      zap.NewNop(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a run.
type Result struct {
	Status  report.Status
	Summary report.Summary
	// Err is the abort cause for aborted runs, or the aggregated file
	// failures of a completed run. It is nil for a clean run.
	Err error
}

// OK reports whether the run completed without failed files.
func (r Result) OK() bool {
	return r.Status == report.StatusCompleted && r.Err == nil
}

// frame is one directory on the walk stack.
type frame struct {
	path    remotepath.Path
	mode    policy.Policy // Recurse or DownloadAll
	entries []remote.Entry
	next    int
	depth   int
}

type run struct {
	*Engine
	ctx     context.Context
	group   *errgroup.Group
	tally   *report.Tally
	visited map[remotepath.Path]bool

	mu       sync.Mutex
	failures *multierror.Error
}

// Run performs one sync pass.
func (e *Engine) Run(ctx context.Context) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Workers)

	r := &run{
		Engine:  e,
		ctx:     gctx,
		group:   group,
		tally:   &report.Tally{},
		visited: make(map[remotepath.Path]bool),
	}

	e.log.Info("sync started",
		zap.Stringer("root", e.cfg.Root),
		zap.String("local", e.mirror.Root()),
		zap.Int("workers", e.cfg.Workers))

	walkErr := r.walk()
	if walkErr != nil {
		cancel()
	}
	// A worker's auth failure cancels gctx, which the walk then reports as a
	// plain cancellation, so the group error takes precedence.
	abortErr := group.Wait()
	if abortErr == nil {
		abortErr = walkErr
	}
	if abortErr == nil {
		abortErr = ctx.Err()
	}

	result := Result{Status: report.StatusCompleted, Summary: r.tally.Summary()}
	if abortErr != nil {
		result.Status = report.StatusAborted
		result.Err = abortErr
		e.log.Error("sync aborted", zap.Error(abortErr))
		return result
	}
	result.Err = r.failures.ErrorOrNil()
	e.log.Info("sync completed", zap.Stringer("summary", result.Summary))
	return result
}

// walk drives the frame stack. It returns a non-nil error only when the run
// has to abort.
func (r *run) walk() error {
	top, err := r.enter(r.cfg.Root, policy.Recurse, 0)
	if err != nil || top == nil {
		return err
	}

	stack := []*frame{top}
	for len(stack) > 0 {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		f := stack[len(stack)-1]
		if f.next >= len(f.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		entry := f.entries[f.next]
		f.next++
		child := remotepath.Join(f.path, entry.Name)

		if entry.IsDir {
			next, err := r.enter(child, f.mode, f.depth+1)
			if err != nil {
				return err
			}
			if next != nil {
				stack = append(stack, next)
			}
			continue
		}

		// Files are only materialized inside download-all subtrees.
		if f.mode != policy.DownloadAll {
			continue
		}
		r.submit(child)
	}
	return nil
}

// enter lists p and decides its policy. It returns the frame to push, or nil
// when the directory is not to be walked.
func (r *run) enter(p remotepath.Path, parent policy.Policy, depth int) (*frame, error) {
	if depth > r.cfg.MaxDepth {
		r.log.Warn("maximum depth reached", zap.Stringer("dir", p), zap.Int("max_depth", r.cfg.MaxDepth))
		r.emit(report.Event{Path: p, Kind: report.KindDir, Outcome: report.Skipped, Detail: report.DetailMaxDepth})
		return nil, nil
	}
	if r.visited[p] {
		r.emit(report.Event{Path: p, Kind: report.KindDir, Outcome: report.Skipped, Detail: report.DetailVisited})
		return nil, nil
	}
	r.visited[p] = true

	listing, err := r.api.List(r.ctx, p)
	if err != nil {
		if remote.IsAuth(err) {
			return nil, errors.Wrapf(err, "listing %s", p)
		}
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.log.Warn("directory unreachable", zap.Stringer("dir", p), zap.Error(err))
		r.emit(report.Event{Path: p, Kind: report.KindDir, Outcome: report.Skipped, Detail: report.DetailUnreachable, Err: err})
		return nil, nil
	}

	pol := r.cfg.Markers.ResolveWithin(parent, listing)
	r.log.Debug("resolved directory policy", zap.Stringer("dir", p), zap.Stringer("policy", pol))

	switch pol {
	case policy.Skip:
		r.emit(report.Event{Path: p, Kind: report.KindDir, Outcome: report.Skipped, Policy: pol.String(), Detail: report.DetailSkipMarker})
		return nil, nil
	case policy.DownloadAll:
		if r.cfg.DryRun {
			break
		}
		if _, err := r.mirror.EnsureDir(p); err != nil {
			r.fail(p, err)
			r.emit(report.Event{Path: p, Kind: report.KindDir, Outcome: report.Failed, Policy: pol.String(), Err: err})
			return nil, nil
		}
	}

	r.emit(report.Event{Path: p, Kind: report.KindDir, Outcome: report.Explored, Policy: pol.String()})
	return &frame{path: p, mode: pol, entries: listing.Entries, depth: depth}, nil
}

// submit queues a transfer. It blocks while all workers are busy.
func (r *run) submit(p remotepath.Path) {
	r.group.Go(func() error {
		res := r.transfer.Transfer(r.ctx, p)
		r.emit(report.Event{
			Path:     p,
			Kind:     report.KindFile,
			Outcome:  res.Outcome,
			Detail:   res.Detail,
			Bytes:    res.Bytes,
			Attempts: res.Attempts,
			Err:      res.Err,
		})
		if res.Err == nil {
			return nil
		}
		if remote.IsAuth(res.Err) {
			return errors.Wrapf(res.Err, "transferring %s", p)
		}
		r.log.Warn("file failed", zap.Stringer("path", p), zap.Int("attempts", res.Attempts), zap.Error(res.Err))
		r.fail(p, res.Err)
		return nil
	})
}

func (r *run) fail(p remotepath.Path, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = multierror.Append(r.failures, errors.Wrapf(err, "%s", p))
}

func (r *run) emit(ev report.Event) {
	ev.Time = r.clock.Now()
	r.tally.Record(ev)
	r.sink.Record(ev)
}
