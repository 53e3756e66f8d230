package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/auth"
	"github.com/cbout22/fbsync/internal/config"
)

// newLoginCmd creates the `login` command.
// Usage: fbsync login [--print-token]
func newLoginCmd(g *globalOptions) *cobra.Command {
	var printToken bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify credentials against the server",
		Long: `Logs in with the configured credentials and lists the remote root to make
sure the token works. With --print-token the raw token is printed so it can be
exported as FBSYNC_TOKEN for later runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd, overrides{})
			if err != nil {
				return err
			}
			defer log.Sync()
			return runLoginWith(cmd.Context(), cfg, log, printToken, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&printToken, "print-token", false, "Print the full token instead of a redacted one")

	return cmd
}

// runLoginWith is the testable core of the login command.
func runLoginWith(ctx context.Context, cfg *config.Config, log *zap.Logger, printToken bool, out io.Writer) error {
	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}

	root := cfg.Engine().Root
	listing, err := s.api.List(ctx, root)
	if err != nil {
		return errors.Wrapf(err, "listing %s", root)
	}

	shown := s.token.Redacted()
	if printToken {
		shown = string(s.token)
	}
	fmt.Fprintf(out, "✅ Logged in to %s as %s\n", cfg.Server.URL, cfg.Server.Username)
	fmt.Fprintf(out, "   %s contains %d entries\n", root, len(listing.Entries))
	fmt.Fprintf(out, "   token: %s\n", shown)
	if printToken {
		fmt.Fprintf(out, "\n   export %s=%s\n", auth.TokenEnvVar, s.token)
	}
	return nil
}
