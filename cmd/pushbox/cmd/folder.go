package cmd

import (
	"fmt"
	"sort"

	"github.com/alexjbarnes/pushbox/internal/manifest"
	"github.com/spf13/cobra"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders and their files",
}

var folderCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty folder",
	Long: `Creates a folder. The name is also the remote repository name, so it must
be unique and may not contain path separators.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		rec, err := a.registry.CreateFolder(args[0])
		if err != nil {
			return err
		}

		info(cmd, "Created folder %s", rec.Name)

		return nil
	},
}

var folderAddCmd = &cobra.Command{
	Use:   "add <name> <file>...",
	Short: "Add local files to a folder",
	Long: `Adds files to a folder in the order given. Files already in the folder are
skipped. Each file is stored remotely under its base name, so two files with
the same base name cannot share a folder; such a batch is rejected whole.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		added, err := a.registry.AddFiles(args[0], args[1:])
		if err != nil {
			return err
		}

		for _, ref := range added {
			info(cmd, "  added  %s -> %s", ref.LocalPath, ref.RemoteName)
		}

		info(cmd, "%d file(s) added to %s", len(added), args[0])

		return nil
	},
}

var folderListCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List folders, or the files of one folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if len(args) == 1 {
			rec, err := a.registry.Folder(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%-30s %s\n", "REMOTE NAME", "LOCAL PATH")
			for _, e := range rec.Entries {
				fmt.Fprintf(out, "%-30s %s\n", e.RemoteName, e.LocalPath)
			}

			return nil
		}

		names := a.registry.Folders()
		if len(names) == 0 {
			info(cmd, "No folders. Create one with 'pushbox folder create <name>'.")
			return nil
		}

		sort.Strings(names)

		fmt.Fprintf(out, "%-30s %s\n", "FOLDER", "FILES")
		for _, name := range names {
			rec, err := a.registry.Folder(name)
			if err != nil {
				continue
			}

			fmt.Fprintf(out, "%-30s %d\n", name, len(rec.Entries))
		}

		return nil
	},
}

var folderImportCmd = &cobra.Command{
	Use:   "import <manifest.yaml>",
	Short: "Create folders and add files from a YAML manifest",
	Long: `Applies a manifest of folders, files and directories to the registry.
Existing folders and files are left alone, so importing the same manifest
again is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manifest.Load(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		rep, err := manifest.Import(a.registry, m)

		for _, name := range rep.Created {
			info(cmd, "  created  %s", name)
		}

		for _, f := range m.Folders {
			if n := len(rep.Added[f.Name]); n > 0 {
				info(cmd, "  added    %d file(s) to %s", n, f.Name)
			}
		}

		return err
	},
}

func init() {
	folderCmd.AddCommand(folderCreateCmd, folderAddCmd, folderListCmd, folderImportCmd)
	rootCmd.AddCommand(folderCmd)
}
