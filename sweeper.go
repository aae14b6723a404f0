package credentials

import (
	"context"
	"time"
)

// ExpiredDeleter removes expired or consumed records, reporting how many.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// Sweeper periodically garbage collects expired ephemeral tokens and
// sessions. Validity never depends on the sweep; lookups already exclude
// expired records, this just keeps the tables from growing without bound.
type Sweeper struct {
	targets  map[string]ExpiredDeleter
	interval time.Duration
	logger   Logger
}

// NewSweeper will create a new Sweeper running at Config.SweepInterval
func NewSweeper(config Config) *Sweeper {
	config.Normalize()
	return &Sweeper{
		targets:  map[string]ExpiredDeleter{},
		interval: config.SweepInterval,
		logger:   defLogger{},
	}
}

func (s *Sweeper) WithLogger(l Logger) *Sweeper {
	if l != nil {
		s.logger = l
	}
	return s
}

// Register adds a sweep target under a name used in logs.
func (s *Sweeper) Register(name string, target ExpiredDeleter) *Sweeper {
	if target != nil {
		s.targets[name] = target
	}
	return s
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one sweep across all registered targets. A failing target
// is logged and does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for name, target := range s.targets {
		removed, err := target.DeleteExpired(ctx)
		if err != nil {
			s.logger.Error("sweep %s failed: %v", name, err)
			continue
		}
		if removed > 0 {
			s.logger.Debug("sweep %s removed %d records", name, removed)
		}
	}
}
