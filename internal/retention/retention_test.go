package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clipshare/pkg/config"
)

type fakeStore struct {
	mu       sync.Mutex
	cutoff   time.Time
	purged   bool
	sessions int
	items    int
}

func (f *fakeStore) PurgeExpiredSessions(time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = true
	return f.sessions, nil
}

func (f *fakeStore) PurgeItemsBefore(cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	f.purged = true
	return f.items, nil
}

func (f *fakeStore) CountExpiredSessions(time.Time) (int, error) { return f.sessions, nil }

func (f *fakeStore) CountItemsBefore(cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	return f.items, nil
}

func testConfig() config.RetentionConfig {
	return config.RetentionConfig{
		Enabled: true,
		Cron:    "0 * * * *",
		Period:  "7d",
		LockTTL: config.Duration(time.Minute),
	}
}

func TestRunNowPurges(t *testing.T) {
	st := &fakeStore{sessions: 2, items: 5}
	m := New(testConfig(), st, t.TempDir())

	rep, err := m.RunNow(context.Background())
	require.NoError(t, err)
	require.False(t, rep.Skipped)
	require.Equal(t, 2, rep.Sessions)
	require.Equal(t, 5, rep.Items)
	require.True(t, st.purged)
	require.WithinDuration(t, rep.Started.Add(-7*24*time.Hour), st.cutoff, time.Second)
}

func TestDryRunOnlyCounts(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	st := &fakeStore{sessions: 1, items: 3}
	rep, err := New(cfg, st, t.TempDir()).RunNow(context.Background())
	require.NoError(t, err)
	require.True(t, rep.DryRun)
	require.Equal(t, 3, rep.Items)
	require.False(t, st.purged)
}

func TestHeldLeaseSkipsRun(t *testing.T) {
	dir := t.TempDir()
	other := newFileLease(dir)
	ok, err := other.Acquire("other", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	st := &fakeStore{items: 1}
	rep, err := New(testConfig(), st, dir).RunNow(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Skipped)
	require.False(t, st.purged)

	require.NoError(t, other.Release("other"))
	rep, err = New(testConfig(), st, dir).RunNow(context.Background())
	require.NoError(t, err)
	require.False(t, rep.Skipped)
}

func TestLeaseOwnership(t *testing.T) {
	l := newFileLease(t.TempDir())
	ok, err := l.Acquire("a", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire("b", time.Hour)
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, l.Renew("b", time.Hour), errNotOwner)
	require.ErrorIs(t, l.Release("b"), errNotOwner)
	require.NoError(t, l.Renew("a", time.Hour))
	require.NoError(t, l.Release("a"))
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	l := newFileLease(t.TempDir())
	ok, err := l.Acquire("a", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire("b", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Release("b"))
}

func TestInvalidPeriod(t *testing.T) {
	cfg := testConfig()
	cfg.Period = "whenever"
	_, err := New(cfg, &fakeStore{}, t.TempDir()).RunNow(context.Background())
	require.Error(t, err)
}

func TestDisabledStartIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	cancel := New(cfg, &fakeStore{}, t.TempDir()).Start(context.Background())
	cancel()
}
