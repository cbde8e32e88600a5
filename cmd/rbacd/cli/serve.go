package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medconsole/rbac/internal/config"
	"github.com/medconsole/rbac/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the role permission api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.Log, nil)

	// the journal outlives the signal, so accepted changes are flushed before exit
	runCtx, stopRun := context.WithCancel(context.Background())

	authz, closePersister, err := newAuthorizer(runCtx, cfg, log)
	if err != nil {
		stopRun()
		return err
	}
	// watchers and the journal stop before the persister closes
	defer closePersister()
	defer stopRun()

	srv := server.New(authz, []byte(cfg.Auth.JWTSecret),
		server.WithLogger(log.WithName("server")),
		server.WithAdminPermission(cfg.Auth.AdminPermission),
	)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		if err := srv.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(ctx)
		if e := authz.Flush(ctx); e != nil {
			err = errors.Join(err, e)
		}
		stopRun()
		log.Info("server stopped")
		return err
	})

	return g.Wait()
}
