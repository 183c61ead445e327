package retention

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"clipshare/pkg/config"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/timeutil"
)

const maxConsecutiveRenewFails = 3

var errLeaseLost = errors.New("retention run aborted: lease could not be renewed")

func newOwnerID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// runOnce acquires the lease, purges, and writes the audit trail.
func (m *Manager) runOnce(ctx context.Context) (Report, error) {
	owner := newOwnerID()
	rep := Report{RunID: owner, Started: timeutil.Now().UTC(), DryRun: m.cfg.DryRun}

	period, err := config.ParsePeriod(m.cfg.Period)
	if err != nil {
		return rep, fmt.Errorf("invalid retention period: %w", err)
	}
	rep.Cutoff = rep.Started.Add(-period)

	ttl := m.cfg.LockTTL.Duration()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	acq, err := m.lease.Acquire(owner, ttl)
	if err != nil {
		return rep, fmt.Errorf("lease acquire failed: %w", err)
	}
	if !acq {
		rep.Skipped = true
		return rep, nil
	}
	defer func() {
		if err := m.lease.Release(owner); err != nil {
			logger.Error("retention_lease_release_error", "error", err)
		}
	}()

	runCtx, runCancel := context.WithCancelCause(ctx)
	defer runCancel(nil)
	go m.heartbeat(runCtx, runCancel, owner, ttl)

	logger.AuditEvent("retention_audit_header", "run_id", rep.RunID, "started_at", rep.Started.Format(time.RFC3339), "cutoff", rep.Cutoff.Format(time.RFC3339), "dry_run", rep.DryRun)

	if rep.DryRun {
		if rep.Sessions, err = m.store.CountExpiredSessions(rep.Started); err != nil {
			return rep, fmt.Errorf("count sessions: %w", err)
		}
		if rep.Items, err = m.store.CountItemsBefore(rep.Cutoff); err != nil {
			return rep, fmt.Errorf("count items: %w", err)
		}
	} else {
		if rep.Sessions, err = m.store.PurgeExpiredSessions(rep.Started); err != nil {
			return rep, fmt.Errorf("purge sessions: %w", err)
		}
		if err := context.Cause(runCtx); err != nil {
			return rep, err
		}
		if rep.Items, err = m.store.PurgeItemsBefore(rep.Cutoff); err != nil {
			return rep, fmt.Errorf("purge items: %w", err)
		}
	}

	logger.AuditEvent("retention_audit_footer", "run_id", rep.RunID, "sessions", rep.Sessions, "items", rep.Items, "dry_run", rep.DryRun)
	logger.Info("retention_run_complete", "run_id", rep.RunID, "sessions", rep.Sessions, "items", rep.Items, "dry_run", rep.DryRun)
	return rep, nil
}

// heartbeat renews the lease and aborts the run after repeated failures.
func (m *Manager) heartbeat(ctx context.Context, abort context.CancelCauseFunc, owner string, ttl time.Duration) {
	t := time.NewTicker(ttl / 3)
	defer t.Stop()
	fails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.lease.Renew(owner, ttl); err != nil {
				fails++
				logger.Error("retention_lease_renew_failed", "error", err, "count", fails)
				if fails >= maxConsecutiveRenewFails {
					abort(errLeaseLost)
					return
				}
				continue
			}
			fails = 0
		}
	}
}
