package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/config"
	"github.com/cbout22/fbsync/internal/report"
)

// newCheckCmd creates the `check` command.
// Usage: fbsync check [--strict]
func newCheckCmd(g *globalOptions) *cobra.Command {
	var strict bool
	var ov overrides

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether the local mirror is up to date",
		Long: `Walks the remote tree like sync does and compares checksums, but never
downloads or writes anything. Useful in CI/CD pipelines and cron jobs.

With --strict, the command exits with a non-zero code if any file is
missing or stale, or if a directory could not be listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd, ov)
			if err != nil {
				return err
			}
			defer log.Sync()
			return runCheckWith(cmd.Context(), cfg, log, strict, cmd.OutOrStdout())
		},
	}

	ov.register(cmd, g)
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit with error code if files are stale or missing")

	return cmd
}

// runCheckWith is the testable core of the check command.
func runCheckWith(ctx context.Context, cfg *config.Config, log *zap.Logger, strict bool, out io.Writer) error {
	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "🔍 Checking %s against %s...\n\n", cfg.Sync.LocalRoot, cfg.Server.URL)

	events := &report.Collector{}
	res, err := s.runPass(ctx, io.Discard, passOptions{dryRun: true, sinks: []report.Sink{events}})
	if err != nil {
		return err
	}
	if res.Status == report.StatusAborted {
		return errors.Wrap(res.Err, "check aborted")
	}

	results := CheckEvents(events.Events())
	var issues, ok int
	for _, r := range results {
		switch r.Status {
		case CheckOK:
			ok++
		case CheckMissing:
			fmt.Fprintf(out, "  ❌ %s — missing\n", r.Path)
			issues++
		case CheckStale:
			fmt.Fprintf(out, "  ⚠️  %s — stale (remote checksum differs)\n", r.Path)
			issues++
		case CheckUnreachable:
			fmt.Fprintf(out, "  ⚠️  %s/ — unreachable: %s\n", r.Path, r.Err)
			issues++
		case CheckFailed:
			fmt.Fprintf(out, "  ❌ %s — could not compare: %s\n", r.Path, r.Err)
			issues++
		}
	}

	fmt.Fprintln(out)
	if issues > 0 {
		msg := fmt.Sprintf("Found %d issue(s), %d file(s) up to date. Run 'fbsync sync' to fix.", issues, ok)
		if strict {
			return errors.New(msg)
		}
		fmt.Fprintf(out, "⚠️  %s\n", msg)
	} else {
		fmt.Fprintf(out, "✅ All %d file(s) are in sync.\n", ok)
	}
	return nil
}
