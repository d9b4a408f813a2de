package cmd

import (
	"fmt"
	"io"

	"github.com/alexjbarnes/pushbox/internal/backup"
	"github.com/spf13/cobra"
)

// info prints a line to the command's stdout unless quiet mode is active.
func info(cmd *cobra.Command, format string, args ...any) {
	if quiet {
		return
	}

	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
}

// humanSize formats bytes as a human-readable string.
func humanSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}

	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGT"[exp])
}

// printResult writes a push result, one line per file that needs
// attention.
func printResult(w io.Writer, res *backup.Result) {
	fmt.Fprintf(w, "%s: %s (%d written, %d unchanged, %d failed, %d skipped)\n",
		res.Folder, res.Outcome(),
		len(res.Succeeded), len(res.Unchanged), len(res.Failed), len(res.Skipped))

	for _, f := range res.Failed {
		fmt.Fprintf(w, "  failed   %s: %v\n", f.Ref.RemoteName, f.Err)
	}

	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped  %s: %v\n", s.Ref.LocalPath, s.Err)
	}

	for _, r := range res.NotAttempted {
		fmt.Fprintf(w, "  pending  %s\n", r.RemoteName)
	}
}
