package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/pushbox/internal/mcpserver"
	"github.com/alexjbarnes/pushbox/internal/server"
	"github.com/alexjbarnes/pushbox/internal/watcher"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Push folders automatically when their files change",
	Long: `Watches every registered file and pushes its folder once the folder's files
have been quiet for WATCH_DEBOUNCE. Folders and files added while watching
are picked up. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		w := watcher.New(a.registry, a.runner, a.cfg.WatchDebounce, a.logger.With(slog.String("service", "watcher")))

		return ignoreCancel(w.Watch(cmd.Context()))
	},
}

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP endpoint and Prometheus metrics",
	Long: `Starts an HTTP server on MCP_LISTEN_ADDR exposing /mcp (folder and push
tools for MCP clients, authenticated by MCP_API_KEYS), /metrics and /healthz.
With --watch the file watcher runs alongside.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		keys, err := a.cfg.ParseMCPAPIKeys()
		if err != nil {
			return fmt.Errorf("parsing MCP_API_KEYS: %w", err)
		}

		if len(keys) == 0 {
			return errors.New("MCP_API_KEYS is empty; create a key with 'pushbox hash-key'")
		}

		logger := a.logger.With(slog.String("service", "mcp"))

		mcpServer := mcp.NewServer(
			&mcp.Implementation{Name: "pushbox", Version: version},
			nil,
		)
		mcpserver.RegisterTools(mcpServer, a.registry, a.runner, logger)

		mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil)

		srv := server.New(a.cfg.MCPListenAddr, server.NewMux(server.MuxConfig{
			Keys:       keys,
			MCPHandler: mcpHandler,
			Logger:     logger,
		}))

		g, gctx := errgroup.WithContext(cmd.Context())

		g.Go(func() error {
			logger.Info("starting MCP server",
				slog.String("listen", a.cfg.MCPListenAddr),
				slog.Int("keys", len(keys)),
			)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("MCP server error: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down MCP server")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})

		if serveWatch {
			w := watcher.New(a.registry, a.runner, a.cfg.WatchDebounce, a.logger.With(slog.String("service", "watcher")))

			g.Go(func() error {
				return ignoreCancel(w.Watch(gctx))
			})
		}

		return g.Wait()
	},
}

// ignoreCancel treats shutdown by signal as a clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also push folders when their files change")

	rootCmd.AddCommand(watchCmd, serveCmd)
}
