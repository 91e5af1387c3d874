package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/indexer"
	"github.com/JakeFAU/crawlsearch/internal/storage/memory"
)

func TestWorker_IndexesTaskWithoutTouchingFrontier(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frontier := memory.NewStore(nil)
	_, err := frontier.EnqueueMany(ctx, []string{"https://example.com/p"})
	require.NoError(t, err)

	task := crawler.NewTask("task-1", "https://example.com/p", time.Now())
	queue := &fakeQueue{items: []crawler.QueueItem{{Task: task}}}
	ix := &fakeIndexer{results: map[string]indexer.Result{
		"https://example.com/p": {Outcome: crawler.OutcomeInserted},
	}}

	w := New(queue, ix, Config{}, zap.NewNop())
	go w.Run(ctx)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not complete")
	}
	require.NoError(t, task.Err())
	require.Equal(t, []string{"https://example.com/p"}, ix.calls())

	pending, err := frontier.NextPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/p"}, pending)
}

func TestWorker_FailureCompletesTask(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := crawler.NewTask("task-2", "https://broken.test", time.Now())
	queue := &fakeQueue{items: []crawler.QueueItem{{Task: task}}}
	ix := &fakeIndexer{err: fmt.Errorf("render: %w", crawler.ErrFetch)}

	go New(queue, ix, Config{TaskTimeout: time.Second}, nil).Run(ctx)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not complete")
	}
	require.ErrorIs(t, task.Err(), crawler.ErrFetch)
	require.Equal(t, []string{"https://broken.test"}, ix.calls())
}

func TestWorker_RecoversPanics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := crawler.NewTask("p", "https://panic.test", time.Now())
	second := crawler.NewTask("ok", "https://ok.test", time.Now())
	queue := &fakeQueue{items: []crawler.QueueItem{{Task: first}, {Task: second}}}
	ix := &fakeIndexer{
		panicOn: "https://panic.test",
		results: map[string]indexer.Result{"https://ok.test": {Outcome: crawler.OutcomeInserted}},
	}

	go New(queue, ix, Config{}, nil).Run(ctx)

	require.Eventually(t, func() bool {
		select {
		case <-second.Done():
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	require.ErrorContains(t, first.Err(), "panicked")
	require.NoError(t, second.Err())
}

func TestWorker_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(&fakeQueue{}, &fakeIndexer{}, Config{}, nil).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

// --- fakes ---

type fakeQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

type fakeIndexer struct {
	mu      sync.Mutex
	results map[string]indexer.Result
	err     error
	panicOn string
	seen    []string
}

func (f *fakeIndexer) Index(_ context.Context, url string) (indexer.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, url)
	f.mu.Unlock()
	if url == f.panicOn {
		panic("renderer exploded")
	}
	if f.err != nil {
		return indexer.Result{}, f.err
	}
	res, ok := f.results[url]
	if !ok {
		return indexer.Result{}, errors.New("unexpected url")
	}
	return res, nil
}

func (f *fakeIndexer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}
