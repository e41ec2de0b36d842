package token

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tanranv5/grok2api/pkg/config"
)

// progressEvery is how many completions pass between progress writes.
// Coalescing bounds store-write volume during large refreshes.
const progressEvery = 5

// RefreshResult summarizes one finished bulk revalidation.
type RefreshResult struct {
	Total   int
	Success int
	Failed  int
}

// BulkRevalidate probes the given credentials with bounded parallelism,
// updating quota and status per credential and the singleton
// RefreshProgress record incrementally. At most one refresh runs at a
// time: a second caller gets *ErrRefreshRunning with the current
// snapshot unless the running record is stale.
//
// The progress record is guaranteed to end with Running=false even when
// a worker fails or panics; the final write happens in a deferred scope.
func (p *Pool) BulkRevalidate(ctx context.Context, creds []Credential, concurrency int, staleness time.Duration) (RefreshResult, error) {
	if p.checker == nil {
		return RefreshResult{}, fmt.Errorf("no usage checker configured")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(creds) && len(creds) > 0 {
		concurrency = len(creds)
	}

	force := false
	if current, err := p.store.RefreshProgress(ctx); err == nil && current.Stale(staleness, p.now()) {
		p.logger.Warn("force-clearing stale refresh record", "updated_at", current.UpdatedAt)
		force = true
	}

	ok, current, err := p.store.TryStartRefresh(ctx, len(creds), force)
	if err != nil {
		return RefreshResult{}, err
	}
	if !ok {
		return RefreshResult{}, &ErrRefreshRunning{Progress: current}
	}

	var (
		mu       sync.Mutex
		progress = RefreshProgress{Running: true, Total: len(creds)}
	)

	defer func() {
		progress.Running = false
		// Best-effort final write with a fresh context: the caller's
		// context may already be cancelled.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.store.UpdateRefresh(cleanupCtx, progress); err != nil {
			p.logger.Error("failed to finalize refresh progress", "error", err)
		}
	}()

	work := make(chan Credential)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cred := range work {
				succeeded := p.revalidateOne(ctx, cred)

				mu.Lock()
				progress.Current++
				if succeeded {
					progress.Success++
				} else {
					progress.Failed++
				}
				flush := progress.Current%progressEvery == 0 || progress.Current == progress.Total
				snapshot := progress
				mu.Unlock()

				if flush {
					if err := p.store.UpdateRefresh(ctx, snapshot); err != nil {
						p.logger.Warn("failed to write refresh progress", "error", err)
					}
				}
			}
		}()
	}

	for _, cred := range creds {
		select {
		case work <- cred:
		case <-ctx.Done():
			// Stop feeding; workers drain and the deferred cleanup
			// still clears the running flag.
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()

	result := RefreshResult{Total: progress.Total, Success: progress.Success, Failed: progress.Failed}
	p.logger.Info("bulk revalidation finished",
		"total", result.Total,
		"success", result.Success,
		"failed", result.Failed,
	)
	return result, ctx.Err()
}

// revalidateOne probes one credential and writes the outcome back.
func (p *Pool) revalidateOne(ctx context.Context, cred Credential) bool {
	quotas, err := p.checker.CheckUsage(ctx, cred)
	if err != nil {
		p.logger.Warn("usage probe failed", "credential", cred.Suffix(), "error", err)
		if err := p.store.SetStatus(ctx, cred.ID, StatusExpired); err != nil {
			p.logger.Error("failed to expire credential after probe failure", "credential", cred.Suffix(), "error", err)
		}
		return false
	}

	if err := p.MarkActive(ctx, cred); err != nil {
		p.logger.Error("failed to reactivate credential", "credential", cred.Suffix(), "error", err)
		return false
	}
	if err := p.UpdateLimits(ctx, cred, quotas); err != nil {
		p.logger.Error("failed to store quotas", "credential", cred.Suffix(), "error", err)
		return false
	}
	return true
}

// Scheduler runs periodic bulk revalidation on a cron schedule.
type Scheduler struct {
	pool   *Pool
	cfg    config.TokenConfig
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler creates a revalidation scheduler. An empty schedule
// disables it.
func NewScheduler(pool *Pool, cfg config.TokenConfig) *Scheduler {
	return &Scheduler{
		pool:   pool,
		cfg:    cfg,
		cron:   cron.New(),
		logger: slog.Default().With("component", "token.scheduler"),
	}
}

// Start begins scheduled revalidation. It returns immediately; jobs run
// on the cron's own goroutine until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.RefreshSchedule == "" {
		s.logger.Info("refresh schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.cfg.RefreshSchedule); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", s.cfg.RefreshSchedule, err)
	}

	_, err := s.cron.AddFunc(s.cfg.RefreshSchedule, func() {
		creds, err := s.pool.Store().List(ctx)
		if err != nil {
			s.logger.Error("scheduled refresh failed to list credentials", "error", err)
			return
		}
		if len(creds) == 0 {
			return
		}
		if _, err := s.pool.BulkRevalidate(ctx, creds, s.cfg.RefreshConcurrency, s.cfg.RefreshStaleness); err != nil {
			if _, busy := err.(*ErrRefreshRunning); busy {
				s.logger.Info("scheduled refresh skipped, another refresh is running")
				return
			}
			s.logger.Error("scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	s.cron.Start()
	s.logger.Info("revalidation scheduler started", "schedule", s.cfg.RefreshSchedule)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
