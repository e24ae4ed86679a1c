package certificate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanerConfig contains event log retention settings
type CleanerConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// Cleaner periodically prunes the event log
type Cleaner struct {
	store  *Store
	cfg    CleanerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewCleaner creates a new cleaner
func NewCleaner(store *Store, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		store:  store,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start starts the cleanup goroutine. It does nothing when retention is
// disabled.
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.MaxAge <= 0 || c.cfg.Interval <= 0 {
		return
	}
	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("event cleaner started",
		"max_age", c.cfg.MaxAge,
		"interval", c.cfg.Interval,
	)
}

// Stop stops the cleaner and waits for it to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

func (c *Cleaner) run(ctx context.Context) {
	deleted, err := c.store.PruneEvents(ctx, time.Now().Add(-c.cfg.MaxAge))
	if err != nil {
		c.logger.Error("failed to prune events", "error", err)
		return
	}
	if deleted > 0 {
		c.logger.Info("pruned events", "deleted", deleted)
	}
}
