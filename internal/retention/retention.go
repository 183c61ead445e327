// Package retention periodically purges expired sessions and old items.
package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"clipshare/pkg/config"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/timeutil"
)

// ErrRunning is returned by RunNow while another run is in progress.
var ErrRunning = errors.New("retention run already in progress")

// Store is the part of the item store retention works on.
type Store interface {
	PurgeExpiredSessions(now time.Time) (int, error)
	PurgeItemsBefore(cutoff time.Time) (int, error)
	CountExpiredSessions(now time.Time) (int, error)
	CountItemsBefore(cutoff time.Time) (int, error)
}

// Report summarizes one run.
type Report struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Cutoff   time.Time `json:"cutoff"`
	Sessions int       `json:"sessions"`
	Items    int       `json:"items"`
	DryRun   bool      `json:"dry_run"`
	// Skipped is set when another process held the lease.
	Skipped bool `json:"skipped,omitempty"`
}

type Manager struct {
	cfg   config.RetentionConfig
	store Store
	lease *fileLease

	mu      sync.Mutex
	running bool
}

// New builds a manager whose lease file lives in leaseDir.
func New(cfg config.RetentionConfig, st Store, leaseDir string) *Manager {
	return &Manager{cfg: cfg, store: st, lease: newFileLease(leaseDir)}
}

// Start runs the cron schedule until ctx ends or the returned cancel is
// called. A disabled manager starts nothing.
func (m *Manager) Start(ctx context.Context) context.CancelFunc {
	if !m.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	logger.Info("retention_enabled", "cron", m.cfg.Cron, "period", m.cfg.Period, "dry_run", m.cfg.DryRun)
	go m.scheduleLoop(ctx)
	return cancel
}

// RunNow performs one run immediately, regardless of the schedule.
func (m *Manager) RunNow(ctx context.Context) (Report, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return Report{}, ErrRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()
	return m.runOnce(ctx)
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(m.cfg.Cron, timeutil.Now(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.cfg.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		t := time.NewTimer(time.Until(next))
		select {
		case <-t.C:
			if _, err := m.RunNow(ctx); err != nil && !errors.Is(err, ErrRunning) {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}
