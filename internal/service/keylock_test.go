package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocksSerializePerKey(t *testing.T) {
	locks := newKeyedLocks()
	var mu sync.Mutex
	events := []string{}

	release, err := locks.Acquire(context.Background(), "k")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		inner, err := locks.Acquire(context.Background(), "k")
		assert.NoError(t, err)
		mu.Lock()
		events = append(events, "second")
		mu.Unlock()
		inner()
	}()

	mu.Lock()
	events = append(events, "first")
	mu.Unlock()
	release()
	<-done

	assert.Equal(t, []string{"first", "second"}, events)
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	locks := newKeyedLocks()
	releaseA, err := locks.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, ok := locks.TryAcquire("b")
	require.True(t, ok)
	releaseB()
}

func TestTryAcquireBusy(t *testing.T) {
	locks := newKeyedLocks()
	release, ok := locks.TryAcquire("k")
	require.True(t, ok)

	_, ok = locks.TryAcquire("k")
	assert.False(t, ok)

	release()
	release2, ok := locks.TryAcquire("k")
	assert.True(t, ok)
	release2()
}

func TestAcquireHonoursContext(t *testing.T) {
	locks := newKeyedLocks()
	release, err := locks.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "k")
	assert.Error(t, err)
}
