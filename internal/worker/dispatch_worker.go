package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/registration-service/internal/dispatch"
)

// Runner runs one dispatch batch.
type Runner interface {
	Run(ctx context.Context, cfg dispatch.Config) (*dispatch.Report, error)
}

// DispatchWorker triggers dispatch runs on a fixed interval. It complements the
// authenticated HTTP trigger; overlapping runs are safe because entries are
// claimed row by row.
type DispatchWorker struct {
	runner     Runner
	cfg        dispatch.Config
	interval   time.Duration
	runTimeout time.Duration
	logger     *zap.Logger
}

// NewDispatchWorker builds a worker. runTimeout bounds each run; zero means
// the run only stops when ctx is cancelled.
func NewDispatchWorker(runner Runner, cfg dispatch.Config, interval, runTimeout time.Duration, logger *zap.Logger) *DispatchWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchWorker{
		runner:     runner,
		cfg:        cfg,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger.Named("dispatch_worker"),
	}
}

// Start blocks until ctx is cancelled, running one batch per tick.
func (w *DispatchWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("dispatch worker disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("dispatch worker started", zap.Duration("interval", w.interval), zap.String("mode", string(w.cfg.Mode)))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatch worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single batch and logs the outcome. Errors never stop the
// worker; unfinished entries stay eligible for the next tick.
func (w *DispatchWorker) RunOnce(ctx context.Context) *dispatch.Report {
	runCtx := ctx
	if w.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.runTimeout)
		defer cancel()
	}

	report, err := w.runner.Run(runCtx, w.cfg)
	if err != nil {
		w.logger.Error("dispatch run failed", zap.Error(err))
		return nil
	}
	return report
}
