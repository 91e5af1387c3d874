// Package scheduler periodically drains the frontier in small batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/indexer"
	"github.com/JakeFAU/crawlsearch/internal/metrics"
)

// ErrTickInProgress is returned by Tick when another tick is still running.
var ErrTickInProgress = errors.New("scheduler tick already in progress")

const (
	defaultInterval  = 20 * time.Second
	defaultBatchSize = 1
)

// Indexer is the per-URL pipeline run for each pending frontier URL.
type Indexer interface {
	Index(ctx context.Context, url string) (indexer.Result, error)
}

// Config controls tick cadence and batch size.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// URLTimeout bounds the whole pipeline for one URL. Zero leaves only the render timeout.
	URLTimeout time.Duration
}

// TickReport summarizes one tick.
type TickReport struct {
	Fetched   int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Scheduler runs Tick on a fixed interval.
type Scheduler struct {
	frontier crawler.Frontier
	indexer  Indexer
	cfg      Config
	logger   *zap.Logger

	tickMu sync.Mutex
	cron   *cron.Cron
}

// New constructs a Scheduler.
func New(frontier crawler.Frontier, ix Indexer, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Scheduler{
		frontier: frontier,
		indexer:  ix,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
	}
}

// Start registers the tick with cron and returns immediately. Ticks use ctx, so cancelling
// it aborts in-flight renders.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.runTick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize))
	return nil
}

// Stop prevents further ticks and waits for a running tick to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for tick")
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	report, err := s.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		s.logger.Debug("tick skipped, previous tick still running")
	case err != nil:
		s.logger.Error("tick failed", zap.Error(err))
	case report.Fetched > 0:
		s.logger.Info("tick finished",
			zap.Int("fetched", report.Fetched),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Duration("duration", report.Duration))
	}
}

// Tick indexes up to BatchSize pending URLs concurrently. Every URL is marked indexed after
// its attempt, successful or not. Per-URL failures are counted, not returned.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	if !s.tickMu.TryLock() {
		return TickReport{}, ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	start := time.Now()
	urls, err := s.frontier.NextPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return TickReport{}, fmt.Errorf("next pending: %w", err)
	}
	report := TickReport{Fetched: len(urls)}
	if len(urls) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.BatchSize)
	for _, url := range urls {
		g.Go(func() error {
			ok := s.crawlOne(ctx, url)
			mu.Lock()
			if ok {
				report.Succeeded++
			} else {
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	metrics.ObserveTick(report.Duration, report.Succeeded, report.Failed)
	return report, nil
}

func (s *Scheduler) crawlOne(ctx context.Context, url string) (ok bool) {
	urlCtx := ctx
	if s.cfg.URLTimeout > 0 {
		var cancel context.CancelFunc
		urlCtx, cancel = context.WithTimeout(ctx, s.cfg.URLTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("index panicked", zap.String("url", url), zap.Any("panic", r))
			ok = false
		}
		if err := s.frontier.MarkIndexed(ctx, url); err != nil {
			s.logger.Error("mark indexed failed", zap.String("url", url), zap.Error(err))
			ok = false
		}
	}()

	if _, err := s.indexer.Index(urlCtx, url); err != nil {
		s.logger.Warn("index failed", zap.String("url", url), zap.Error(err))
		return false
	}
	return true
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
