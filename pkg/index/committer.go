package index

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCommitInterval is the quiet period the scheduler waits for
	// before committing.
	DefaultCommitInterval = 2 * time.Second

	// DefaultMaxCommitInterval is the hard upper bound on how long a
	// pending commit may be deferred under sustained writes.
	DefaultMaxCommitInterval = 5 * time.Minute
)

// committer debounces commit requests: many writes coalesce into one
// Commit per quiet period, and a pending commit never waits longer than
// the max interval even under continuous writes. It controls when Commit
// runs, not how documents are staged.
type committer struct {
	interval    time.Duration
	maxInterval time.Duration
	commit      func()
	logger      *slog.Logger

	mu           sync.Mutex
	timer        *time.Timer
	pending      bool
	firstPending time.Time
	closed       bool
}

func newCommitter(interval, maxInterval time.Duration, commit func(), logger *slog.Logger) *committer {
	if interval <= 0 {
		interval = DefaultCommitInterval
	}
	if maxInterval <= 0 {
		maxInterval = DefaultMaxCommitInterval
	}
	return &committer{
		interval:    interval,
		maxInterval: maxInterval,
		commit:      commit,
		logger:      logger,
	}
}

// ScheduleCommit records that uncommitted writes exist. The ctx is the
// pipeline's cancellation token: once it is cancelled the commit happens
// immediately and synchronously instead of waiting out the quiet period.
func (c *committer) ScheduleCommit(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if ctx != nil && ctx.Err() != nil {
		c.stopTimerLocked()
		c.pending = false
		c.mu.Unlock()
		c.commit()
		return
	}

	now := time.Now()
	if !c.pending {
		c.pending = true
		c.firstPending = now
		c.timer = time.AfterFunc(c.interval, c.fire)
		c.mu.Unlock()
		return
	}

	// Keep debouncing only while under the hard bound; past it the
	// pending timer is left alone so the commit fires on schedule.
	if now.Sub(c.firstPending) < c.maxInterval {
		if c.timer != nil {
			c.timer.Reset(c.interval)
		}
	} else {
		c.logger.Debug("commit debounce at max interval, not resetting",
			slog.Duration("waited", now.Sub(c.firstPending)))
	}
	c.mu.Unlock()
}

// fire is the timer action: exactly one commit, pending state cleared.
func (c *committer) fire() {
	c.mu.Lock()
	if c.closed || !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.mu.Unlock()
	c.commit()
}

// Pending reports whether a commit is scheduled.
func (c *committer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *committer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close stops the scheduler, flushing one final commit if one is pending.
// Safe to call multiple times.
func (c *committer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	flush := c.pending
	c.pending = false
	c.mu.Unlock()

	if flush {
		c.commit()
	}
}
