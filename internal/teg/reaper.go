package teg

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReaperConfig controls the unstake reaper's sweep interval and per-release
// concurrency, mirroring internal/health's Config shape.
type ReaperConfig struct {
	SweepInterval time.Duration
	MaxConcurrent int
}

// DefaultReaperConfig sweeps once a minute with up to 10 releases in flight,
// matching the health checker's default probe concurrency.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{SweepInterval: time.Minute, MaxConcurrent: 10}
}

// Reaper periodically releases stakes whose unstaking cooldown has elapsed.
type Reaper struct {
	repo   *Repository
	cfg    ReaperConfig
	logger *zap.Logger
}

// NewReaper creates a Reaper with sane defaults for any zero-valued config fields.
func NewReaper(repo *Repository, cfg ReaperConfig, logger *zap.Logger) *Reaper {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 10
	}
	return &Reaper{repo: repo, cfg: cfg, logger: logger}
}

// Start runs the sweep loop until quit receives a signal. It blocks; call it
// in its own goroutine.
func (r *Reaper) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SweepInterval)
			r.Sweep(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// Sweep releases every due unstake, bounding how many run concurrently so a
// large backlog doesn't open unbounded database connections.
func (r *Reaper) Sweep(ctx context.Context) {
	due, err := r.repo.DueUnstakes(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error("list due unstakes failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, r.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, stake := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(s *Stake) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := r.repo.ReleaseStake(ctx, s.StakeID); err != nil {
				r.logger.Error("release stake failed",
					zap.String("stake_id", s.StakeID),
					zap.String("agent_did", s.AgentDID),
					zap.Error(err))
				return
			}
			r.logger.Info("stake released",
				zap.String("stake_id", s.StakeID),
				zap.String("agent_did", s.AgentDID))
		}(stake)
	}
	wg.Wait()
}
