package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeys(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{}},
		{"sorted", []string{"b", "a", "c"}, []string{"a", "b", "c"}},
		{"dedupe", []string{"a", "b", "a"}, []string{"a", "b"}},
		{"drop empty", []string{"", "a", ""}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, normalizeKeys(tt.in))
		})
	}
}

func TestLockManager_ReleaseFreesEntries(t *testing.T) {
	m := newLockManager()

	release, err := m.acquire(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, m.size())

	release()
	release() // second call is a no-op
	assert.Equal(t, 0, m.size())
}

func TestLockManager_BlocksUntilReleased(t *testing.T) {
	m := newLockManager()

	release, err := m.acquire(context.Background(), []string{"a"})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := m.acquire(context.Background(), []string{"a"})
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock granted while held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestLockManager_ContextCancelReleasesPartial(t *testing.T) {
	m := newLockManager()

	holdB, err := m.acquire(context.Background(), []string{"b"})
	require.NoError(t, err)
	defer holdB()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = m.acquire(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// "a" was taken then given back
	r, err := m.acquire(context.Background(), []string{"a"})
	require.NoError(t, err)
	r()
}
