package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/live"
)

const keepAliveInterval = 15 * time.Second

// subscribeFunc starts a live query that calls send with every snapshot.
type subscribeFunc func(ctx context.Context, send func(any)) live.Unsubscribe

// streamSSE serves snapshots as server-sent events until the client goes
// away or base is cancelled. Only the most recent undelivered snapshot is kept.
func streamSSE(base context.Context, c *fiber.Ctx, logger *zap.Logger, event string, subscribe subscribeFunc) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// the request context ends when the handler returns, before streaming starts
		ctx, cancel := context.WithCancel(base)
		defer cancel()

		updates := make(chan any, 1)
		send := func(v any) {
			for {
				select {
				case updates <- v:
					return
				default:
				}
				select {
				case <-updates:
				default:
				}
			}
		}
		unsubscribe := subscribe(ctx, send)
		defer unsubscribe()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case v := <-updates:
				if err := writeEvent(w, event, v); err != nil {
					logger.Debug("sse client gone", zap.Error(err))
					return
				}
			case <-keepAlive.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

// writeEvent writes one SSE frame and flushes it.
func writeEvent(w *bufio.Writer, event string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body); err != nil {
		return err
	}
	return w.Flush()
}
