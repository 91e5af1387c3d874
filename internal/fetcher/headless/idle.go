package headless

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	lifecycleInit        = "init"
	lifecycleNetworkIdle = "networkIdle"
)

// idleWatcher tracks page lifecycle events and signals once the main frame's current
// document has gone network idle.
type idleWatcher struct {
	mu        sync.Mutex
	mainFrame cdp.FrameID
	loader    cdp.LoaderID
	idle      chan struct{}
	timedOut  bool
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{idle: make(chan struct{}, 1)}
}

// observe is registered with chromedp.ListenTarget. The first "init" names the main frame;
// later inits on that frame (redirects) move the expected loader forward.
func (w *idleWatcher) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch e.Name {
	case lifecycleInit:
		if w.mainFrame == "" {
			w.mainFrame = e.FrameID
		}
		if e.FrameID == w.mainFrame {
			w.loader = e.LoaderID
		}
	case lifecycleNetworkIdle:
		if e.FrameID != w.mainFrame || e.LoaderID != w.loader || w.loader == "" {
			return
		}
		select {
		case w.idle <- struct{}{}:
		default:
		}
	}
}

func (w *idleWatcher) enable() chromedp.Action {
	return page.SetLifecycleEventsEnabled(true)
}

// wait blocks until the network is idle or limit passes. Hitting the limit is not an
// error: pages with long polling never go idle and are read as they stand.
func (w *idleWatcher) wait(limit time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if limit <= 0 {
			return nil
		}
		timer := time.NewTimer(limit)
		defer timer.Stop()
		select {
		case <-w.idle:
			return nil
		case <-timer.C:
			w.mu.Lock()
			w.timedOut = true
			w.mu.Unlock()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (w *idleWatcher) reachedIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.timedOut
}
