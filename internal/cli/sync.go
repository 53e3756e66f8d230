package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/config"
	"github.com/cbout22/fbsync/internal/metrics"
	"github.com/cbout22/fbsync/internal/report"
)

type syncOptions struct {
	reportPath  string
	metricsPath string
	verbose     bool
}

// newSyncCmd creates the `sync` command.
// Usage: fbsync sync [--workers N] [--report file.json] [--metrics-file file.prom]
func newSyncCmd(g *globalOptions) *cobra.Command {
	var opts syncOptions
	var ov overrides

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the remote tree into the local root",
		Long: `Walks the remote File Browser tree and downloads every file that lives
below a directory carrying the classB marker. Directories carrying the skip
marker are ignored together with everything beneath them. Files whose local
copy already matches the remote checksum are not downloaded again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd, ov)
			if err != nil {
				return err
			}
			defer log.Sync()
			return runSyncWith(cmd.Context(), cfg, log, opts, cmd.OutOrStdout())
		},
	}

	ov.register(cmd, g)
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Write a JSON run report to this file")
	cmd.Flags().StringVar(&opts.metricsPath, "metrics-file", "", "Write Prometheus metrics to this file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Also list unchanged files and explored directories")

	return cmd
}

// runSyncWith is the testable core of the sync command.
func runSyncWith(ctx context.Context, cfg *config.Config, log *zap.Logger, opts syncOptions, out io.Writer) error {
	started := time.Now()

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}

	var doc *report.Document
	var rec *metrics.Recorder
	var sinks []report.Sink
	if opts.reportPath != "" {
		doc = report.NewDocument(started)
		sinks = append(sinks, doc)
	}
	if opts.metricsPath != "" {
		rec = metrics.NewRecorder()
		sinks = append(sinks, rec)
	}

	fmt.Fprintf(out, "🔄 Syncing %s%s → %s\n\n", cfg.Server.URL, cfg.Engine().Root, cfg.Sync.LocalRoot)

	res, err := s.runPass(ctx, out, passOptions{verbose: opts.verbose, sinks: sinks})
	if err != nil {
		return err
	}

	finished := time.Now()
	if doc != nil {
		doc.Finish(res.Status, finished)
		if err := doc.Save(opts.reportPath); err != nil {
			log.Error("saving run report", zap.Error(err))
		}
	}
	if rec != nil {
		rec.RecordRun(res.Status, finished.Sub(started), finished)
		if err := rec.WriteTextfile(opts.metricsPath); err != nil {
			log.Error("saving metrics", zap.Error(err))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "📋 %s\n", res.Summary)

	if res.Status == report.StatusAborted {
		return errors.Wrap(res.Err, "sync aborted")
	}
	if res.Err != nil {
		return errors.Errorf("sync completed with %d failed file(s)", res.Summary.Failed)
	}

	fmt.Fprintln(out, "✅ Local mirror is up to date.")
	return nil
}
