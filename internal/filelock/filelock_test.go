package filelock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "x.lock")
	l, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
}

func TestTryAcquire_SecondFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	l1, ok, err := TryAcquire(path)
	require.NoError(t, err)
	require.True(t, ok)
	defer l1.Unlock()

	l2, ok2, err := TryAcquire(path)
	require.NoError(t, err)
	assert.False(t, ok2)
	assert.Nil(t, l2)
}
