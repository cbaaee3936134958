package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/diffview/internal/logging"
	"github.com/opencode-ai/diffview/internal/server"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diffview HTTP server",
	Long: `Start diffview as a server that exposes reviews over an HTTP API,
with an SSE stream of review and surface events at /event.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 4097)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config, 127.0.0.1)")
}

func runServe(cmd *cobra.Command, args []string) error {
	root, cfg, err := setup()
	if err != nil {
		return err
	}

	a, err := newApp(root, cfg)
	if err != nil {
		return err
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	if len(cfg.Server.CORS) > 0 {
		serverConfig.CORSOrigins = cfg.Server.CORS
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Host = serveHostname
	}

	srv := server.New(serverConfig, a.reviews, a.host, a.bus)

	logging.Info().Str("version", Version).Str("root", root).Msg("starting diffview server")
	cmd.Printf("diffview listening on http://%s (root %s)\n", srv.Addr(), root)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			a.close(context.Background())
			return err
		}
	}

	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	a.close(shutdownCtx)

	logging.Info().Msg("server stopped")
	return nil
}
