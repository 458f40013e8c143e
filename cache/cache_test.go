package cache

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetCachedLoadsOnce(t *testing.T) {
	req := require.New(t)
	c := New(slog.Default(), time.Minute)

	calls := 0
	loader := func() ([]string, error) {
		calls++
		return []string{"hello"}, nil
	}

	first, err := GetCached(c, "messages:room1", 30*time.Second, loader)
	req.NoError(err)
	second, err := GetCached(c, "messages:room1", 30*time.Second, loader)
	req.NoError(err)

	req.Equal(first, second)
	req.Equal(1, calls)
}

func TestGetCachedReloadsAfterTTL(t *testing.T) {
	req := require.New(t)
	c := New(slog.Default(), time.Minute)

	calls := 0
	loader := func() (int, error) {
		calls++
		return calls, nil
	}

	_, err := GetCached(c, "counter", time.Millisecond, loader)
	req.NoError(err)
	time.Sleep(5 * time.Millisecond)
	value, err := GetCached(c, "counter", time.Millisecond, loader)
	req.NoError(err)
	req.Equal(2, value)
}

func TestInvalidateByPrefix(t *testing.T) {
	req := require.New(t)
	c := New(slog.Default(), time.Minute)

	load := func(v string) func() (string, error) {
		return func() (string, error) { return v, nil }
	}
	_, err := GetCached(c, "messages:room1:50", time.Minute, load("a"))
	req.NoError(err)
	_, err = GetCached(c, "messages:room2:50", time.Minute, load("b"))
	req.NoError(err)
	_, err = GetCached(c, "user:alice", time.Minute, load("c"))
	req.NoError(err)

	c.Invalidate("messages:room1")
	req.Equal(2, c.Len())

	calls := 0
	_, err = GetCached(c, "messages:room1:50", time.Minute, func() (string, error) {
		calls++
		return "a2", nil
	})
	req.NoError(err)
	req.Equal(1, calls)
}

func TestSweepEvictsExpired(t *testing.T) {
	req := require.New(t)
	c := New(slog.Default(), time.Minute)

	_, err := GetCached(c, "short", time.Millisecond, func() (string, error) { return "x", nil })
	req.NoError(err)
	_, err = GetCached(c, "long", time.Hour, func() (string, error) { return "y", nil })
	req.NoError(err)

	c.sweep(time.Now().Add(time.Second))
	req.Equal(1, c.Len())
}
