package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/service"
)

// NotificationWorker delivers queued notification intents off the request path.
type NotificationWorker struct {
	svc    *service.NotificationService
	logger *zap.Logger

	mu     sync.RWMutex
	queue  chan domain.NotificationIntent
	closed bool
	wg     sync.WaitGroup
}

// StartNotificationWorker registers notification handlers and starts
// workers goroutines draining a queue of size buffer.
func StartNotificationWorker(ctx context.Context, svc *service.NotificationService, workers, buffer int, logger *zap.Logger) *NotificationWorker {
	if svc == nil {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 256
	}
	w := &NotificationWorker{
		svc:    svc,
		logger: logger,
		queue:  make(chan domain.NotificationIntent, buffer),
	}
	svc.UseQueue(w.enqueue)
	svc.RegisterHandlers()

	// delivery must outlive the request that raised the event
	base := context.WithoutCancel(ctx)
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for intent := range w.queue {
				w.svc.Deliver(base, intent)
			}
		}()
	}
	logger.Info("notification worker started", zap.Int("workers", workers), zap.Int("buffer", buffer))
	return w
}

func (w *NotificationWorker) enqueue(intent domain.NotificationIntent) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- intent:
		return true
	default:
		return false
	}
}

// Stop drains the queue and waits for in-flight deliveries.
func (w *NotificationWorker) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
