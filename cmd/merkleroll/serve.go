package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/spf13/cobra"

	"github.com/forestrie/go-merkleroll/checkpoint"
	"github.com/forestrie/go-merkleroll/internal/api"
	"github.com/forestrie/go-merkleroll/internal/service"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tree api",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func checkpointSigner(log logger.Logger) (checkpoint.IdentifiableCoseSigner, error) {
	if cfg.Checkpoint.KeyFile == "" {
		log.Infof("no checkpoint key configured, generating %s for this process", cfg.Checkpoint.KeyID)
		return checkpoint.GenerateKeySigner(cfg.Checkpoint.KeyID)
	}
	return checkpoint.LoadKeySigner(cfg.Checkpoint.KeyFile, cfg.Checkpoint.KeyID)
}

func serve(ctx context.Context) error {
	log := logger.Sugar.WithServiceName("merkleroll")

	store, closer, err := openStore(ctx, log, cfg.Store)
	if err != nil {
		return err
	}
	defer closer.Close()

	coseSigner, err := checkpointSigner(log)
	if err != nil {
		return err
	}

	svc, err := service.New(service.Config{Issuer: cfg.Checkpoint.Issuer}, log, store, coseSigner)
	if err != nil {
		return err
	}
	if err = svc.Load(ctx); err != nil {
		return err
	}
	log.Infof("loaded %d trees from %s store", len(svc.IDs()), cfg.Store.Kind)

	router := api.NewRouter(svc, log, api.Defaults{
		Depth:      cfg.Tree.Depth,
		BufferSize: cfg.Tree.BufferSize,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err = <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
