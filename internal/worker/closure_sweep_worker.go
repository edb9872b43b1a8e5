package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/service"
)

// SweepLockKey guards the sweep so only one replica runs it at a time.
const SweepLockKey = "account-workflows:closure-sweep"

// Sweeper completes overdue closure requests.
type Sweeper interface {
	SweepDueClosures(ctx context.Context) (service.SweepResult, error)
}

// Locker is a non-blocking mutual exclusion lock.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// ClosureSweepWorker runs the closure sweep on a cron schedule.
type ClosureSweepWorker struct {
	sweeper Sweeper
	newLock func() Locker
	logger  *zap.Logger
	timeout time.Duration
	cron    *cron.Cron
}

// NewClosureSweepWorker builds the worker. newLock is called once per run.
func NewClosureSweepWorker(sweeper Sweeper, newLock func() Locker, timeout time.Duration, logger *zap.Logger) *ClosureSweepWorker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ClosureSweepWorker{
		sweeper: sweeper,
		newLock: newLock,
		logger:  logger,
		timeout: timeout,
	}
}

// Start schedules the sweep. schedule accepts cron specs and descriptors such as "@every 15m".
func (w *ClosureSweepWorker) Start(schedule string) error {
	cronLogger := cronLogger{w.logger.Sugar()}
	w.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := w.cron.AddFunc(schedule, func() {
		_, _, _ = w.SweepOnce(context.Background())
	}); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("closure sweep scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to expire.
func (w *ClosureSweepWorker) Stop(ctx context.Context) {
	if w.cron == nil {
		return
	}
	select {
	case <-w.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// SweepOnce runs one sweep if the lock can be taken. ran is false when
// another holder owns the lock.
func (w *ClosureSweepWorker) SweepOnce(ctx context.Context) (result service.SweepResult, ran bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	lock := w.newLock()
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		w.logger.Warn("closure sweep lock failed", zap.Error(err))
		return result, false, err
	}
	if !acquired {
		w.logger.Debug("closure sweep skipped; lock held elsewhere")
		return result, false, nil
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn("closure sweep unlock failed", zap.Error(err))
		}
	}()

	start := time.Now()
	result, err = w.sweeper.SweepDueClosures(ctx)
	if err != nil {
		w.logger.Error("closure sweep failed", zap.Error(err))
		return result, true, err
	}
	w.logger.Info("closure sweep finished",
		zap.Int("examined", result.Examined),
		zap.Int("completed", len(result.Completed)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("took", time.Since(start)),
	)
	return result, true, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
