package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker периодически запускает цикл опроса сервиса
type Worker struct {
	svc          Service
	interval     time.Duration
	initialDelay time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	zaplog       *zap.Logger
}

func NewWorker(svc Service, interval, initialDelay time.Duration, zaplog *zap.Logger) *Worker {
	return &Worker{
		svc:          svc,
		interval:     interval,
		initialDelay: initialDelay,
		stopCh:       make(chan struct{}),
		zaplog:       zaplog,
	}
}

func (worker *Worker) Start(ctx context.Context) {
	worker.wg.Add(1)
	go worker.loop(ctx)
}

func (worker *Worker) loop(ctx context.Context) {
	defer worker.wg.Done()

	// отложенный первый цикл: дать процессу подняться
	select {
	case <-time.After(worker.initialDelay):
	case <-worker.stopCh:
		return
	case <-ctx.Done():
		return
	}

	worker.runOnce(ctx)

	ticker := time.NewTicker(worker.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			worker.runOnce(ctx)
		case <-worker.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (worker *Worker) runOnce(ctx context.Context) {
	start := time.Now()
	if err := worker.svc.RunCycle(ctx); err != nil {
		worker.zaplog.Error("poll cycle failed", zap.Error(err))
		return
	}
	worker.zaplog.Info("poll cycle complete",
		zap.Duration("elapsed", time.Since(start)))
}

// Stop останавливает воркер. Начатый цикл доводится до конца
func (worker *Worker) Stop() {
	close(worker.stopCh)
	worker.wg.Wait()
}
