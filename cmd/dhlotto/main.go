package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"dhlotto/internal/config"
	"dhlotto/internal/handler"
	"dhlotto/internal/logger"
	"dhlotto/internal/lotto"
	"dhlotto/internal/publisher"
	"dhlotto/internal/service"
	"dhlotto/internal/session"
	"dhlotto/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.GetConfig()

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	sess := session.NewSession(cfg.Session, zaplog)
	client := lotto.NewClient(sess, cfg.Lotto.GameURL, zaplog)
	pub := publisher.NewPublisher(cfg.Publisher, zaplog)

	svc := service.NewService(cfg.Service, sess, client, store, pub, zaplog)

	worker := service.NewWorker(svc, cfg.Service.UpdateInterval, cfg.Service.InitialDelay, zaplog)
	worker.Start(ctx)
	defer worker.Stop()

	return handler.Serve(ctx, cfg.Handler, svc, zaplog)
}
