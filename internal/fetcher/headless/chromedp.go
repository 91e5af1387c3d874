// Package headless renders pages in headless Chrome so script-built DOMs are indexed.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/extract"
)

const (
	defaultNavTimeout  = 60 * time.Second
	defaultIdleTimeout = 10 * time.Second
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// IdleTimeout bounds the wait for network idle after load. Zero uses the default and a
	// negative value skips the wait.
	IdleTimeout time.Duration
	// SettleDelay is an extra fixed wait after network idle.
	SettleDelay time.Duration
	// RenderQPS caps renders per second across all callers. Zero disables the cap.
	RenderQPS float64
}

// Renderer implements crawler.Renderer using chromedp.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	rate        *rate.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by a shared Chrome allocator.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.RenderQPS < 0 {
		return nil, fmt.Errorf("render qps must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	var qps *rate.Limiter
	if cfg.RenderQPS > 0 {
		burst := int(cfg.RenderQPS)
		if burst < 1 {
			burst = 1
		}
		qps = rate.NewLimiter(rate.Limit(cfg.RenderQPS), burst)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		rate:        qps,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("renderer"),
	}, nil
}

// Close shuts down the browser allocator.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to url, waits for network idle and reads the DOM. Every failure,
// including the navigation timeout, wraps crawler.ErrFetch.
func (r *Renderer) Render(ctx context.Context, url string) (crawler.RenderedPage, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("%w: %w", crawler.ErrFetch, err)
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	// Tie the browser tab to the caller's context as well as the navigation timeout.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	idle := newIdleWatcher()
	chromedp.ListenTarget(taskCtx, idle.observe)

	start := time.Now()
	html, finalURL, err := r.run(taskCtx, url, idle)
	if err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("%w: render %s: %w", crawler.ErrFetch, url, err)
	}
	r.logger.Debug("rendered page",
		zap.String("url", url),
		zap.String("final_url", finalURL),
		zap.Bool("network_idle", idle.reachedIdle()),
		zap.Duration("elapsed", time.Since(start)))

	page, err := extract.ParseDocument(url, finalURL, []byte(html))
	if err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("%w: parse %s: %w", crawler.ErrFetch, url, err)
	}
	return page, nil
}

func (r *Renderer) run(ctx context.Context, url string, idle *idleWatcher) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		idle.enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		idle.wait(r.cfg.IdleTimeout),
	}
	if r.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(r.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.rate != nil {
		if err := r.rate.Wait(ctx); err != nil {
			return fmt.Errorf("render rate wait: %w", err)
		}
	}
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}
