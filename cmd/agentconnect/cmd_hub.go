package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ykute07/agentconnect/pkg/logger"
	"github.com/ykute07/agentconnect/pkg/registry"
	"github.com/ykute07/agentconnect/pkg/transport"
)

func newHubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run a message hub for agents to connect to",
		RunE:  runHub,
	}
	cmd.Flags().String("listen", "", "Listen address (overrides config)")
	return cmd
}

func runHub(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFrom(cmd)
	if err != nil {
		return err
	}
	addr := cfg.Transport.ListenAddr
	if flagAddr, _ := cmd.Flags().GetString("listen"); flagAddr != "" {
		addr = flagAddr
	}

	hub := transport.NewHub(registry.NewHub())
	srv := &http.Server{
		Addr:              addr,
		Handler:           hub,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("hub", "Hub listening", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
