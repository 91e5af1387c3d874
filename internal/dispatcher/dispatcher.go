// Package dispatcher accepts manual index requests and fans them out to a worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/links"
	"github.com/JakeFAU/crawlsearch/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	ids     crawler.IDGenerator
	clock   crawler.Clock
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue crawler.Queue,
	workers []*worker.Worker,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates rawURL and queues it for indexing without waiting for the work. The
// returned task may be ignored. A full queue yields crawler.ErrQueueFull.
func (d *Dispatcher) Submit(ctx context.Context, rawURL string) (*crawler.Task, error) {
	rawURL = strings.TrimSpace(rawURL)
	if _, ok := links.ParseBase(rawURL); !ok {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", crawler.ErrInvalidInput)
	}
	id, err := d.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}
	task := crawler.NewTask(id, rawURL, d.clock.Now())
	if err := d.queue.Enqueue(ctx, crawler.QueueItem{Task: task}); err != nil {
		return nil, fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Debug("index task queued", zap.String("task_id", id), zap.String("url", rawURL))
	return task, nil
}
