package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orderdesk/api/internal/auth"
)

func TestRegistryKeepsOneControllerPerIdentity(t *testing.T) {
	reg := NewRegistry(newScriptedResolver(), Options{})
	defer reg.Close()

	a, err := reg.Acquire(auth.Identity{UID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	b, err := reg.Acquire(auth.Identity{UID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	require.Same(t, a, b)

	other, err := reg.Acquire(auth.Identity{UID: "u2"})
	require.NoError(t, err)
	require.NotSame(t, a, other)
	require.Equal(t, 2, reg.Len())

	got, ok := reg.Lookup("u1")
	require.True(t, ok)
	require.Same(t, a, got)
}

func TestRegistryReleaseTearsDown(t *testing.T) {
	reg := NewRegistry(newScriptedResolver(), Options{})
	defer reg.Close()

	c, err := reg.Acquire(auth.Identity{UID: "u1"})
	require.NoError(t, err)
	reg.Release("u1")
	require.True(t, c.Closed())
	_, ok := reg.Lookup("u1")
	require.False(t, ok)
	reg.Release("u1")

	fresh, err := reg.Acquire(auth.Identity{UID: "u1"})
	require.NoError(t, err)
	require.NotSame(t, c, fresh)
	require.False(t, fresh.Closed())
}

func TestRegistryCloseRejectsAcquire(t *testing.T) {
	reg := NewRegistry(newScriptedResolver(), Options{})
	c, err := reg.Acquire(auth.Identity{UID: "u1"})
	require.NoError(t, err)

	reg.Close()
	require.True(t, c.Closed())
	_, err = reg.Acquire(auth.Identity{UID: "u1"})
	require.ErrorIs(t, err, ErrClosed)
	require.Zero(t, reg.Len())
}

func TestRegistryReleaseIdle(t *testing.T) {
	reg := NewRegistry(newScriptedResolver(), Options{})
	defer reg.Close()
	now := time.Unix(1_700_000_000, 0)
	reg.now = func() time.Time { return now }

	stale, err := reg.Acquire(auth.Identity{UID: "stale"})
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)
	active, err := reg.Acquire(auth.Identity{UID: "active"})
	require.NoError(t, err)

	// Lookup is not use.
	_, ok := reg.Lookup("stale")
	require.True(t, ok)

	now = now.Add(45 * time.Minute)
	require.Equal(t, []string{"stale"}, reg.ReleaseIdle(time.Hour))
	require.True(t, stale.Closed())
	require.False(t, active.Closed())
	require.Equal(t, 1, reg.Len())

	require.Equal(t, []string{"active"}, reg.ReleaseIdle(0))
	require.Zero(t, reg.Len())
}
