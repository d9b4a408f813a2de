package cmd

import (
	"fmt"
	"time"

	"github.com/alexjbarnes/pushbox/internal/backup"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <folder>",
	Short: "Upload a folder to its remote repository",
	Long: `Uploads every file of the folder whose remote copy is missing or differs,
creating the repository on first push. Progress is printed to stderr. The
command fails if any file could not be uploaded; files that did upload stay
uploaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		errOut := cmd.ErrOrStderr()

		done := a.runner.PushAsync(cmd.Context(), args[0], backup.Callbacks{
			OnProgress: func(pct int) {
				if !quiet {
					fmt.Fprintf(errOut, "\rpushing %s: %3d%%", args[0], pct)
				}
			},
			OnWarning: func(w backup.Warning) {
				if !quiet {
					fmt.Fprintf(errOut, "\nwarning: %v\n", w)
				}
			},
		})

		outcome := <-done

		if !quiet {
			fmt.Fprintln(errOut)
		}

		if outcome.Err != nil {
			return outcome.Err
		}

		printResult(cmd.OutOrStdout(), outcome.Result)

		return outcome.Result.Err()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <folder>",
	Short: "Show local files against their last push",
	Long: `Lists each file of the folder with its local size and when it was last
pushed. A file marked "changed" differs in size or was modified after its
last push. This reads only local state; the next push still asks the remote.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		statuses, err := a.runner.Status(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-30s %-10s %-20s %s\n", "REMOTE NAME", "SIZE", "LAST PUSHED", "STATE")

		for _, s := range statuses {
			size, pushed := "-", "never"

			if s.Present {
				size = humanSize(s.Size)
			}

			if s.Last != nil {
				pushed = s.Last.PushedAt.Local().Format(time.DateTime)
			}

			fmt.Fprintf(out, "%-30s %-10s %-20s %s\n", s.Ref.RemoteName, size, pushed, fileState(s))
		}

		return nil
	},
}

func fileState(s backup.FileStatus) string {
	switch {
	case !s.Present:
		return "missing"
	case s.Pending():
		return "changed"
	default:
		return "pushed"
	}
}

func init() {
	rootCmd.AddCommand(pushCmd, statusCmd)
}
