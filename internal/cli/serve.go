package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nishad/uniload/internal/api"
	"github.com/nishad/uniload/internal/db"
)

var serveAddr string

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API over HTTP",
		Long: `Serve the read-only status API: /healthz, /api/v1/status and
/api/v1/history. The server shuts down gracefully on SIGINT/SIGTERM.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "listen", "", "Listen address (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	addr := serveAddr
	if addr == "" {
		addr = cfg.API.ListenAddr
	}

	adapter, err := db.Connect(cmd.Context(), cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer adapter.Close()

	server := api.NewServer(api.Config{
		ListenAddr: addr,
		Schema:     cfg.Database.Schema,
	}, adapter, logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		logger.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}
