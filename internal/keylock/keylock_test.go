package keylock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWith_MutualExclusion(t *testing.T) {
	k := New()
	ctx := context.Background()

	const n = 100
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := k.With(ctx, "repo-1", func() error {
				// Unsynchronized read-modify-write; lost updates would
				// show up as counter < n.
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, n, counter, "lost updates indicate interleaved critical sections")
}

func TestWith_FIFOOrder(t *testing.T) {
	k := New()
	ctx := context.Background()

	var order []int
	var wg sync.WaitGroup
	release := make(chan struct{})

	// Occupy the key so subsequent requests queue up in a known order.
	started := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = k.With(ctx, "key", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	for i := 1; i <= 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = k.With(ctx, "key", func() error {
				order = append(order, i)
				return nil
			})
		}()
		// Give each request time to chain onto the tail before the next.
		time.Sleep(20 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestWith_KeyIsolation(t *testing.T) {
	k := New()
	ctx := context.Background()

	const keys = 8
	const hold = 100 * time.Millisecond

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = k.With(ctx, key, func() error {
				time.Sleep(hold)
				return nil
			})
		}()
	}
	wg.Wait()

	// Serialized execution would take keys*hold; parallel should be close
	// to a single hold duration.
	assert.Less(t, time.Since(start), keys*hold/2, "independent keys must not serialize")
}

func TestWith_ErrorReleasesLock(t *testing.T) {
	k := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := k.With(ctx, "key", func() error { return boom })
	require.ErrorIs(t, err, boom)

	// A follow-up critical section must still be admitted.
	ran := false
	err = k.With(ctx, "key", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWith_IdleKeyRemoved(t *testing.T) {
	k := New()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, k.With(ctx, "transient", func() error { return nil }))
	}

	k.mu.Lock()
	size := len(k.tails)
	k.mu.Unlock()
	assert.Zero(t, size, "idle keys must be garbage collected")
}

func TestWith_ContextCancelledWhileWaiting(t *testing.T) {
	k := New()

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = k.With(context.Background(), "key", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := k.With(ctx, "key", func() error {
		t.Error("critical section must not run after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	// Later waiters chained behind the cancelled one must still be admitted.
	done := make(chan error, 1)
	go func() {
		done <- k.With(context.Background(), "key", func() error { return nil })
	}()
	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter behind a cancelled request was never admitted")
	}
	wg.Wait()
}

func TestPairKey(t *testing.T) {
	assert.NotEqual(t, PairKey("ws1", "a"), PairKey("ws1", "b"))
	assert.NotEqual(t, PairKey("ws1", "a"), PairKey("ws2", "a"))
	assert.Equal(t, PairKey("ws1", "repo"), PairKey("ws1", "repo"))
}
