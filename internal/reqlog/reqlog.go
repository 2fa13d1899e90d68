// Package reqlog implements a non-blocking, batched dispatch logger.
//
// Log entries are written to an internal buffered channel and flushed in
// batches by a background goroutine, so logging a dispatch outcome never
// blocks the proxy hot path. If the channel fills up (> 10 000 entries),
// new entries are dropped and counted in DroppedLogs.
//
// Adapted from the teacher's internal/logger/logger.go — same
// channel/ticker/batch-flush shape, generalized from LLM request metadata
// to dispatch outcomes (chain ID, upstream URL, attempt count).
package reqlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// DispatchLog records the outcome of a single Dispatcher.Send call.
type DispatchLog struct {
	ID        uuid.UUID
	ChainId   rpcproxy.ChainId
	Method    string
	URL       rpcproxy.URL
	Attempts  int
	LatencyMs uint32
	Success   bool
	Error     string
	CreatedAt time.Time
}

// Logger batches DispatchLog entries and flushes them through slog.
type Logger struct {
	ch        chan DispatchLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
}

// New starts a Logger's background flush goroutine, bound to ctx's
// lifetime for the slog calls it makes (not for shutdown — use Close).
func New(ctx context.Context, slogger *slog.Logger) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("reqlog: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan DispatchLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log enqueues entry for async flushing. Never blocks: if the internal
// channel is full, the entry is dropped and counted.
func (l *Logger) Log(entry DispatchLog) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

// DroppedLogs returns the number of entries dropped so far due to
// channel backpressure.
func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

// Close drains and flushes any buffered entries, then stops the
// background goroutine. Blocks until the drain completes.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]DispatchLog, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.log.InfoContext(ctx, "dispatch",
				slog.String("id", e.ID.String()),
				slog.Uint64("chain_id", e.ChainId),
				slog.String("method", e.Method),
				slog.String("url", e.URL),
				slog.Int("attempts", e.Attempts),
				slog.Uint64("latency_ms", uint64(e.LatencyMs)),
				slog.Bool("success", e.Success),
				slog.String("error", e.Error),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
