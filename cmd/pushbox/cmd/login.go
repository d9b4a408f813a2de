package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/alexjbarnes/pushbox/internal/auth"
	"github.com/alexjbarnes/pushbox/internal/config"
	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/state"
	"github.com/spf13/cobra"
)

var loginUser string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save credentials for the remote service",
	Long: `Reads a secret from stdin and saves it in the state database. For GitHub
the secret is a personal access token with repo scope; it is checked against
the API before saving and the account name is taken from it unless --user is
given. For S3 the secret is the secret access key and --user is the access
key ID.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.ErrOrStderr(), "Enter secret: ")

		secret, err := readLine(cmd.InOrStdin())
		if err != nil {
			return err
		}

		identity := loginUser

		if a.cfg.Backend == config.BackendGitHub {
			user, err := newGitHubClient(a.cfg, loginUser, secret).AuthenticatedUser(cmd.Context())
			if err != nil {
				return fmt.Errorf("%w: token rejected: %w", pberrors.ErrAuthentication, err)
			}

			if identity == "" {
				identity = user
			}
		} else if identity == "" {
			return fmt.Errorf("--user (the access key ID) is required for the %s backend", a.cfg.Backend)
		}

		if err := a.state.SetLogin(state.Login{Identity: identity, Secret: secret}); err != nil {
			return fmt.Errorf("saving login: %w", err)
		}

		info(cmd, "Logged in as %s", identity)

		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove saved credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		if err := a.state.ClearLogin(); err != nil {
			return fmt.Errorf("clearing login: %w", err)
		}

		info(cmd, "Logged out")

		return nil
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key",
	Short: "Generate an MCP API key and its bcrypt hash",
	Long: `Prints a new random API key and the bcrypt hash to put in MCP_API_KEYS as
user:<hash>. Give the key to the MCP client; only the hash is configured on
the server. With --stdin the key is read from stdin instead of generated.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			key string
			err error
		)

		if hashKeyStdin {
			fmt.Fprint(cmd.ErrOrStderr(), "Enter key: ")
			key, err = readLine(cmd.InOrStdin())
		} else {
			key, err = auth.GenerateKey()
		}

		if err != nil {
			return err
		}

		hash, err := auth.HashKey(key)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !hashKeyStdin {
			fmt.Fprintf(out, "key:  %s\n", key)
		}

		fmt.Fprintf(out, "hash: %s\n", hash)

		return nil
	},
}

var hashKeyStdin bool

// readLine reads one non-empty line.
func readLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}

		return "", fmt.Errorf("no input")
	}

	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return "", fmt.Errorf("no input")
	}

	return line, nil
}

func init() {
	loginCmd.Flags().StringVar(&loginUser, "user", "", "account name (GitHub) or access key ID (S3)")
	hashKeyCmd.Flags().BoolVar(&hashKeyStdin, "stdin", false, "hash a key read from stdin")

	rootCmd.AddCommand(loginCmd, logoutCmd, hashKeyCmd)
}
