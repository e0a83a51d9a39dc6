package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pageforge/buildstream/internal/infrastructure/server"
)

var (
	serveAddr     string
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Replay journalled builds over the plan and stream endpoints",
	Long: `Serve exposes the journal as a build API: GET /api/build/{id}/plan
returns the latest snapshot and GET /api/build/{id}/stream replays the
journalled events as a live stream. Useful for demos and for developing
front-end consumers without a real build service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := loadServices()
		if err != nil {
			return err
		}

		srv := server.New(serveAddr, svcs.Journal, serveInterval, logrus.WithField("component", "serve"))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		fmt.Fprintf(cmd.OutOrStdout(), "Serving journal %s on %s\n", svcs.Journal.Path(), serveAddr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8394", "listen address")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 200*time.Millisecond, "delay between replayed events")
	RootCmd.AddCommand(serveCmd)
}
