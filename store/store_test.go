package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonnes/cgshare/share"
)

var base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newShare(status share.Status, startedAt time.Time) share.Info {
	return share.Info{
		ID:           share.NewID(),
		SessionPath:  "/p/s.jsonl",
		SessionName:  "s",
		ProviderName: "mock",
		StartedAt:    startedAt,
		Status:       status,
	}
}

func insert(t *testing.T, s *Store, infos ...share.Info) {
	t.Helper()
	for _, info := range infos {
		require.NoError(t, s.InsertShare(context.Background(), info))
	}
}

func TestOpenCreatesDirectoriesAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "shares.db")

	s, err := Open(path)
	require.NoError(t, err)
	info := newShare(share.StatusActive, base)
	insert(t, s, info)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetShare(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestGetShare(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	info := newShare(share.StatusStarting, base.Add(123*time.Millisecond))
	info.PublicURL = "https://x.mock.test/1"
	info.LocalPort = 4321
	insert(t, s, info)

	got, err := s.GetShare(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	_, err = s.GetShare(ctx, share.NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdates(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	info := newShare(share.StatusStarting, base)
	insert(t, s, info)

	require.NoError(t, s.SetSharePort(ctx, info.ID, 5000))
	require.NoError(t, s.UpdateShareActive(ctx, info.ID, "https://u.test", 5001))
	got, err := s.GetShare(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, share.StatusActive, got.Status)
	assert.Equal(t, "https://u.test", got.PublicURL)
	assert.Equal(t, 5001, got.LocalPort)

	require.NoError(t, s.UpdateShareStatus(ctx, info.ID, share.StatusStopped))
	got, err = s.GetShare(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, share.StatusStopped, got.Status)

	missing := share.NewID()
	assert.ErrorIs(t, s.UpdateShareStatus(ctx, missing, share.StatusStopped), ErrNotFound)
	assert.ErrorIs(t, s.UpdateShareActive(ctx, missing, "u", 1), ErrNotFound)
	assert.ErrorIs(t, s.SetSharePort(ctx, missing, 1), ErrNotFound)
}

func TestListOrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	old := newShare(share.StatusStopped, base)
	mid := newShare(share.StatusActive, base.Add(time.Minute))
	recent := newShare(share.StatusStarting, base.Add(2*time.Minute))
	insert(t, s, mid, old, recent)

	all, err := s.ListShares(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []share.ID{recent.ID, mid.ID, old.ID}, ids(all))

	running, err := s.ListSharesByStatus(ctx, share.StatusStarting, share.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, []share.ID{recent.ID, mid.ID}, ids(running))

	none, err := s.ListSharesByStatus(ctx)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestListEmptyIsNotNil(t *testing.T) {
	all, err := newStore(t).ListShares(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestTransitionShares(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	starting := newShare(share.StatusStarting, base)
	active := newShare(share.StatusActive, base)
	stopped := newShare(share.StatusStopped, base)
	insert(t, s, starting, active, stopped)

	n, err := s.TransitionShares(ctx, share.StatusError, share.StatusStarting, share.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for id, want := range map[share.ID]share.Status{
		starting.ID: share.StatusError,
		active.ID:   share.StatusError,
		stopped.ID:  share.StatusStopped,
	} {
		got, err := s.GetShare(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}

func TestDeleteTerminalSharesBefore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := base.Add(48 * time.Hour)
	cutoff := now.Add(-24 * time.Hour)

	oldStopped := newShare(share.StatusStopped, now.Add(-25*time.Hour))
	oldError := newShare(share.StatusError, now.Add(-30*time.Hour))
	oldActive := newShare(share.StatusActive, now.Add(-30*time.Hour))
	oldStarting := newShare(share.StatusStarting, now.Add(-30*time.Hour))
	freshStopped := newShare(share.StatusStopped, now.Add(-time.Hour))
	insert(t, s, oldStopped, oldError, oldActive, oldStarting, freshStopped)

	n, err := s.DeleteTerminalSharesBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := s.ListShares(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []share.ID{oldActive.ID, oldStarting.ID, freshStopped.ID}, ids(left))
}

func TestInvalidStatusIsDecodeError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := share.NewID()
	_, err := s.db.Exec(`INSERT INTO shares (id, session_path, session_name, provider_name, started_at, status)
		VALUES (?, '/p', 'p', 'mock', 0, 'Running')`, id.String())
	require.NoError(t, err)

	_, err = s.GetShare(ctx, id)
	assert.ErrorIs(t, err, share.ErrInvalidStatus)

	_, err = s.ListShares(ctx)
	assert.ErrorIs(t, err, share.ErrInvalidStatus)
}

func TestDaemonState(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.GetState(ctx, "pid")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetState(ctx, "pid", "100"))
	require.NoError(t, s.SetState(ctx, "pid", "200"))
	v, ok, err := s.GetState(ctx, "pid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "200", v)

	require.NoError(t, s.DeleteState(ctx, "pid"))
	require.NoError(t, s.DeleteState(ctx, "pid"))
	_, ok, err = s.GetState(ctx, "pid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func ids(infos []share.Info) []share.ID {
	out := make([]share.ID, len(infos))
	for i, info := range infos {
		out[i] = info.ID
	}
	return out
}
