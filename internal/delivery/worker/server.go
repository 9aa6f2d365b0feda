// Package worker runs the background sync poller as a delivery component.
package worker

import (
	"context"
	"log/slog"
	"time"

	"calsync/config"
	"calsync/internal/delivery"
	"calsync/internal/usecase"

	"go.uber.org/fx"
)

// tickTimeoutFactor bounds one polling pass to a multiple of the interval so
// a stuck provider cannot pile up passes.
const tickTimeoutFactor = 2

type syncWorker struct {
	cfg     *config.Config
	logger  *slog.Logger
	usecase usecase.SyncUsecase
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerParams holds dependencies for the sync worker
type WorkerParams struct {
	fx.In

	Lc          fx.Lifecycle
	Cfg         *config.Config
	Logger      *slog.Logger
	SyncUsecase usecase.SyncUsecase
}

// NewWorker creates the background ticker that drives periodic sync.
func NewWorker(params WorkerParams) (delivery.Delivery, error) {
	worker := &syncWorker{
		cfg:     params.Cfg,
		logger:  params.Logger,
		usecase: params.SyncUsecase,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	params.Lc.Append(fx.Hook{
		OnStop: worker.stop,
	})

	return worker, nil
}

// Serve runs the polling loop until the fx lifecycle stops it.
func (w *syncWorker) Serve(ctx context.Context) error {
	interval := w.cfg.Sync.PollInterval
	w.logger.Info("Starting sync worker", slog.Duration("pollInterval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.runTick(ctx, interval)
		}
	}
}

func (w *syncWorker) runTick(ctx context.Context, interval time.Duration) {
	tickCtx, cancel := context.WithTimeout(ctx, tickTimeoutFactor*interval)
	defer cancel()

	if err := w.usecase.Tick(tickCtx); err != nil {
		w.logger.ErrorContext(tickCtx, "sync tick failed", slog.String("error", err.Error()))
	}
}

func (w *syncWorker) stop(ctx context.Context) error {
	w.logger.Info("Shutting down sync worker")
	close(w.stopCh)

	select {
	case <-w.doneCh:
	case <-ctx.Done():
	}

	return nil
}
