// Package worker runs manually submitted index tasks off the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/indexer"
	"github.com/JakeFAU/crawlsearch/internal/metrics"
	"github.com/JakeFAU/crawlsearch/internal/queue/memory"
)

// Indexer is the per-URL pipeline a worker drives.
type Indexer interface {
	Index(ctx context.Context, url string) (indexer.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// TaskTimeout bounds one task end to end. Zero leaves only the render timeout.
	TaskTimeout time.Duration
}

// Worker consumes queue items and indexes their URLs.
type Worker struct {
	queue   crawler.Queue
	indexer Indexer
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue crawler.Queue, ix Indexer, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		indexer: ix,
		cfg:     cfg,
		logger:  logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if item.Task == nil {
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.Task.ID), zap.String("url", item.Task.URL))
		w.process(ctx, item.Task)
	}
}

// process indexes the task URL. The frontier's pending set is left alone: a manual index
// neither adds nor retires scheduler work.
func (w *Worker) process(ctx context.Context, task *crawler.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	taskCtx := ctx
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}

	res, err := w.run(taskCtx, task)

	if err != nil {
		metrics.ObserveIndexTask("failed")
		w.logger.Warn("index task failed", zap.String("task_id", task.ID), zap.String("url", task.URL), zap.Error(err))
	} else {
		metrics.ObserveIndexTask("succeeded")
		w.logger.Info("index task finished",
			zap.String("task_id", task.ID),
			zap.String("url", task.URL),
			zap.String("outcome", string(res.Outcome)),
			zap.Duration("queued_for", time.Since(task.Submitted)))
	}
	task.Complete(err)
}

func (w *Worker) run(ctx context.Context, task *crawler.Task) (res indexer.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("index task panicked: %v", r)
		}
	}()
	return w.indexer.Index(ctx, task.URL)
}
