package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	httpadapter "github.com/PabloGalante/instaflow/internal/adapters/http"
	"github.com/PabloGalante/instaflow/internal/app/caption"
	"github.com/PabloGalante/instaflow/internal/app/feed"
	"github.com/PabloGalante/instaflow/internal/app/session"
	"github.com/PabloGalante/instaflow/internal/config"
	"github.com/PabloGalante/instaflow/internal/observability"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	log := observability.Logger()

	model, err := buildModel(ctx, cfg)
	if err != nil {
		return err
	}
	st, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()
	auth, err := buildIdentity(ctx, cfg)
	if err != nil {
		return err
	}

	sess := session.NewStore(st.follows, session.Options{
		RetryAttempts: cfg.Follow.RetryAttempts,
		RetryBackoff:  cfg.Follow.RetryBackoff,
		OnFailure:     session.FailurePolicy(cfg.Follow.OnFailure),
	})

	resolveCtx, stopResolve := context.WithCancel(ctx)
	resolved := make(chan struct{})
	go func() {
		defer close(resolved)
		_ = sess.Resolve(resolveCtx, auth)
	}()

	feedSvc := feed.NewService(sess, st.posts, st.users, feed.Options{
		PageSize: cfg.Feed.PageSize,
		StoryTTL: cfg.Feed.StoryTTL,
	})

	if cfg.Mode != config.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httpadapter.NewServer(httpadapter.Deps{
		Captions:       caption.NewService(model),
		Session:        sess,
		Feed:           feedSvc,
		Auth:           auth,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("instaflow API listening", "addr", srv.Addr, "mode", cfg.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			stopResolve()
			<-resolved
			sess.Close()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	stopResolve()
	<-resolved
	sess.Close()
	return nil
}
