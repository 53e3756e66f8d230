package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/config"
	"github.com/cbout22/fbsync/internal/remote"
	"github.com/cbout22/fbsync/internal/remotepath"
)

// completionTimeout keeps the shell responsive when the server is slow.
const completionTimeout = 2 * time.Second

// completeRemoteDirs provides dynamic shell completion for --remote-root by
// listing the directory the user is typing into.
func completeRemoteDirs(g *globalOptions) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg, err := config.Load(g.configPath)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		cfg.Server.Timeout = config.Duration{Duration: completionTimeout}
		cfg.Retry.Attempts = 1

		ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
		defer cancel()

		s, err := openSession(ctx, cfg, zap.NewNop())
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return completeListing(ctx, s.api, toComplete)
	}
}

// completeListing suggests the subdirectories of the directory part of
// toComplete whose names start with the remaining prefix. Suggestions keep
// the user's spelling of the directory part.
func completeListing(ctx context.Context, api remote.API, toComplete string) ([]string, cobra.ShellCompDirective) {
	base, prefix := "", toComplete
	if idx := strings.LastIndex(toComplete, "/"); idx != -1 {
		base, prefix = toComplete[:idx+1], toComplete[idx+1:]
	}

	listing, err := api.List(ctx, remotepath.Normalize(base))
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var completions []string
	for _, e := range listing.Entries {
		if !e.IsDir || !strings.HasPrefix(e.Name, prefix) {
			continue
		}
		completions = append(completions, formatCompletionLine(base+e.Name+"/", "Directory"))
	}

	return completions, cobra.ShellCompDirectiveNoSpace | cobra.ShellCompDirectiveNoFileComp
}

// formatCompletionLine renders a value with its description the way cobra
// expects it.
func formatCompletionLine(value, desc string) string {
	if desc == "" {
		return value
	}
	return value + "\t" + desc
}
