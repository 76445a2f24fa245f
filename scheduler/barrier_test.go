package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier_NeverReleasesEarly(t *testing.T) {
	const workers = 4
	b := NewBarrier(workers + 1)

	for gen := 0; gen < 50; gen++ {
		var arrived atomic.Int32
		var early atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				arrived.Add(1)
				_, err := b.Await(context.Background())
				assert.NoError(t, err)
				if arrived.Load() != workers+1 {
					early.Add(1)
				}
			}()
		}

		require.Eventually(t, func() bool { return b.Waiting() == workers }, time.Second, time.Millisecond)
		arrived.Add(1)
		g, err := b.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(gen), g)
		wg.Wait()
		assert.Zero(t, early.Load(), "generation %d released before all parties arrived", gen)
	}
	assert.Equal(t, uint64(50), b.Generation())
}

func TestBarrier_HoldsWhileOnePartyMissing(t *testing.T) {
	b := NewBarrier(5)
	released := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			if _, err := b.Await(context.Background()); err == nil {
				released <- struct{}{}
			}
		}()
	}
	require.Eventually(t, func() bool { return b.Waiting() == 4 }, time.Second, time.Millisecond)

	select {
	case <-released:
		t.Fatal("barrier released with 4 of 5 parties")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := b.Await(context.Background())
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatal("waiter not released")
		}
	}
}

func TestBarrier_AbortWakesAllParked(t *testing.T) {
	const (
		parties = 5
		parked  = 3
	)
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 1000; trial++ {
		b := NewBarrier(parties)
		errs := make(chan error, parties)
		for i := 0; i < parked; i++ {
			go func() {
				_, err := b.Await(context.Background())
				errs <- err
			}()
		}
		require.Eventually(t, func() bool { return b.Waiting() == parked }, 2*time.Second, 10*time.Microsecond,
			"trial %d", trial)

		// 其余两方在中止之后的随机时刻才到达
		delays := []time.Duration{
			time.Duration(rng.Intn(50)) * time.Microsecond,
			time.Duration(rng.Intn(50)) * time.Microsecond,
		}
		b.Abort()
		for _, d := range delays {
			go func() {
				time.Sleep(d)
				_, err := b.Await(context.Background())
				errs <- err
			}()
		}

		for i := 0; i < parties; i++ {
			select {
			case err := <-errs:
				require.ErrorIs(t, err, ErrBarrierAborted, "trial %d", trial)
			case <-time.After(2 * time.Second):
				t.Fatalf("trial %d: party %d did not observe abort", trial, i)
			}
		}
		assert.True(t, b.Broken())
		assert.Zero(t, b.Generation(), "trial %d: aborted barrier must not release", trial)
	}
}

func TestBarrier_AbortIsIdempotentAndSticky(t *testing.T) {
	b := NewBarrier(2)
	b.Abort()
	b.Abort()
	_, err := b.Await(context.Background())
	assert.ErrorIs(t, err, ErrBarrierAborted)
}

func TestBarrier_ContextCancelAbortsPeers(t *testing.T) {
	b := NewBarrier(3)
	peer := make(chan error, 1)
	go func() {
		_, err := b.Await(context.Background())
		peer <- err
	}()
	require.Eventually(t, func() bool { return b.Waiting() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Await(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return b.Waiting() == 2 }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ErrorIs(t, <-peer, ErrBarrierAborted)
}

func TestBarrier_InvalidPartiesPanics(t *testing.T) {
	assert.Panics(t, func() { NewBarrier(0) })
}
