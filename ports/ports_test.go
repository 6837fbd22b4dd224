package ports

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryValidation(t *testing.T) {
	for _, tc := range []struct{ min, max int }{
		{0, 100},
		{100, 0},
		{200, 100},
		{-1, -1},
	} {
		_, err := NewRegistry(tc.min, tc.max)
		assert.Error(t, err, "range [%d-%d] should be rejected", tc.min, tc.max)
	}
}

func TestAcquireRelease(t *testing.T) {
	r, err := NewRegistry(20100, 20103)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		port, err := r.Acquire()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, port, 20100)
		assert.LessOrEqual(t, port, 20103)
		assert.False(t, seen[port], "port %d handed out twice", port)
		seen[port] = true
	}

	_, err = r.Acquire()
	assert.ErrorIs(t, err, ErrExhausted)

	// Releasing a port makes it available again.
	r.Release(20101)
	port, err := r.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 20101, port)
}

func TestAcquireSkipsBusyPort(t *testing.T) {
	r, err := NewRegistry(20110, 20112)
	require.NoError(t, err)

	// Occupy the first candidate port externally.
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", 20110))
	if err != nil {
		t.Skipf("cannot listen on test port: %v", err)
	}
	defer l.Close()

	port, err := r.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, 20110, port)
}

func TestReleaseOutOfRangeIgnored(t *testing.T) {
	r, err := NewRegistry(20120, 20121)
	require.NoError(t, err)
	r.Release(9999) // no panic, no effect
	port, err := r.Acquire()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 20120)
}

func TestHostTable(t *testing.T) {
	r, err := NewRegistry(20130, 20139)
	require.NoError(t, err)

	_, ok := r.Lookup("a.example")
	assert.False(t, ok)

	r.RegisterHost("a.example", 20130)
	port, ok := r.Lookup("a.example")
	assert.True(t, ok)
	assert.Equal(t, 20130, port)

	// Re-registration overwrites atomically.
	r.RegisterHost("a.example", 20131)
	port, ok = r.Lookup("a.example")
	assert.True(t, ok)
	assert.Equal(t, 20131, port)

	r.RegisterHost("b.example", 20132)
	assert.Equal(t, map[string]int{"a.example": 20131, "b.example": 20132}, r.Hosts())

	r.DeregisterHost("a.example")
	_, ok = r.Lookup("a.example")
	assert.False(t, ok)
}
