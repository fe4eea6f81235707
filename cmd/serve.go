package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/bnema/gemini-pool/internal/adapters/httpapi"
	"github.com/bnema/gemini-pool/internal/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(state *cli) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the OpenAI-compatible gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				app.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				app.cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, app)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides server.port)")

	return cmd
}

// runServer listens until ctx is cancelled. The pool warms up in the
// background; requests arriving earlier wait for it.
func runServer(ctx context.Context, app *app) error {
	warnIfNoAccounts(app.cfg.Accounts.Dir)

	addr := net.JoinHostPort(app.cfg.Server.Host, strconv.Itoa(app.cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	app.pool.Start(context.WithoutCancel(ctx))
	defer app.pool.Close()

	go func() {
		if err := app.pool.Ready(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("credential pool failed to initialize")
			}
			return
		}
		log.WithField("accounts", app.pool.Size()).Info("credential pool ready")
	}()

	srv := httpapi.NewHTTPServer(addr, httpapi.NewServer(app.pool).Handler())

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":    listener.Addr().String(),
			"version": version.Version,
		}).Info("gateway listening")
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func warnIfNoAccounts(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil || len(matches) == 0 {
		log.WithField("dir", dir).Warn("accounts directory is empty or missing; run 'gpool login' to add an account")
	}
}
