package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote <folder>",
	Short: "List the objects in a folder's remote repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		objs, err := a.runner.RemoteFiles(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-30s %-10s %s\n", "PATH", "SIZE", "VERSION")

		for _, o := range objs {
			fmt.Fprintf(out, "%-30s %-10s %s\n", o.Path, humanSize(o.Size), o.VersionTag)
		}

		return nil
	},
}

var pullDest string

var pullCmd = &cobra.Command{
	Use:   "pull <folder> <remote-name>",
	Short: "Download a file from a folder's remote repository",
	Long: `Downloads one object. Without --to it restores over the registered local
file of that name; with --to it writes to the given file or directory.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		dest, err := a.runner.Pull(cmd.Context(), args[0], args[1], pullDest)
		if err != nil {
			return err
		}

		info(cmd, "Wrote %s", dest)

		return nil
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <folder> <remote-name>",
	Short: "Show how a local file differs from its remote copy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		d, err := a.runner.Diff(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		if d == "" {
			info(cmd, "%s is up to date", args[1])
			return nil
		}

		fmt.Fprint(cmd.OutOrStdout(), d)

		return nil
	},
}

func init() {
	pullCmd.Flags().StringVar(&pullDest, "to", "", "destination file or directory")

	rootCmd.AddCommand(remoteCmd, pullCmd, diffCmd)
}
