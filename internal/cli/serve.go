package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, event stream and WebRTC listen-back",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			log := deps.Log
			if deps.App.Client != nil {
				healthCtx, healthCancel := context.WithTimeout(ctx, 30*time.Second)
				err := deps.App.Client.WaitForHealthy(healthCtx, 2*time.Second)
				healthCancel()
				if err != nil {
					log.Warn().Err(err).Str("url", deps.Config.ChatURL).Msg("chat server not reachable, sends will fail until it is")
				}
			}

			if port == 0 {
				port = deps.Config.Port
			}
			addr := fmt.Sprintf(":%d", port)
			server := &http.Server{Addr: addr, Handler: deps.App.Handler()}

			go func() {
				<-ctx.Done()
				log.Info().Msg("shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				server.Shutdown(shutdownCtx)
			}()

			log.Info().Str("addr", addr).Str("mode", deps.App.Mode()).Msg("voicenote listening")
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return deps.App.Close()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config)")
	return cmd
}
