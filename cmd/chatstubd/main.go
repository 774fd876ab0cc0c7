// Command chatstubd runs the local development chat stub: the REST surface
// and realtime feed the SDK talks to, backed by SQLite.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/clioworks/engagechat/internal/config"
	"github.com/clioworks/engagechat/internal/devserver"
	"github.com/clioworks/engagechat/internal/sysutil"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	logger := sysutil.NewLogger(os.Stderr, cfg.LogPretty).With().
		Str("component", "chatstubd").Logger()

	gin.SetMode(cfg.Stub.GinMode)

	db, err := devserver.OpenSQLite(cfg.Stub.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Stub.DBPath).Msg("open database")
	}
	if err := devserver.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	uploadsDir := sysutil.FirstNonEmpty(os.Getenv("UPLOADS_DIR"), "uploads")
	srv := devserver.NewServer(db, devserver.NewHub(logger), logger, uploadsDir)

	engine := gin.New()
	devserver.RegisterRoutes(engine, srv, cfg.Stub)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Stub.Port,
		Handler:           engine,
		ReadTimeout:       cfg.Stub.ReadTimeout,
		ReadHeaderTimeout: cfg.Stub.ReadHeaderTimeout,
		WriteTimeout:      cfg.Stub.WriteTimeout,
		IdleTimeout:       cfg.Stub.IdleTimeout,
		MaxHeaderBytes:    cfg.Stub.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Msg("chat stub listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
