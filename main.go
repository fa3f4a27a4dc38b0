package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"

	"qrtrace/internal/config"
	"qrtrace/internal/logging"
	"qrtrace/internal/server"
	"qrtrace/internal/websocket"
)

func main() {
	var args config.Args
	arg.MustParse(&args)

	cfg, err := config.Load(args)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logging.SetLoggerLevel(cfg.LogLevel)
	logging.SetFormat(cfg.LogFormat)

	db, err := initDB(cfg.DBPath)
	if err != nil {
		logrus.Fatalf("DB init failed: %v", err)
	}
	defer db.Close()

	if handled, err := runKeyCommand(db, args, os.Stdout); handled {
		if err != nil {
			logrus.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	locker, closeLocker := newLocker(ctx, cfg)
	defer closeLocker()

	app := server.NewApp(db, websocket.NewHub(), locker, cfg)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("shutdown: %v", err)
		}
	}()

	logrus.WithFields(logrus.Fields{
		"listen":       cfg.Listen,
		"db":           cfg.DBPath,
		"station_keys": cfg.RequireStationKey,
		"doc_type":     cfg.DefaultDocumentType,
	}).Info("qrtrace server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("server: %v", err)
	}
}
