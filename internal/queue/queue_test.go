package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hosterrors "github.com/conneroisu/lsphost/internal/errors"
	"github.com/conneroisu/lsphost/internal/types"
)

func TestSerialQueueOrdersResults(t *testing.T) {
	q := New(Serial, "test-serial")

	var mu sync.Mutex
	var finished []string

	record := func(name string, sleep time.Duration) func(context.Context) (string, error) {
		return func(ctx context.Context) (string, error) {
			time.Sleep(sleep)
			mu.Lock()
			finished = append(finished, name)
			mu.Unlock()
			return name, nil
		}
	}

	// The first closure sleeps longer; ordering must hold regardless.
	h1 := Enqueue(q, types.PriorityMedium, record("c1", 50*time.Millisecond))
	h2 := Enqueue(q, types.PriorityMedium, record("c2", 10*time.Millisecond))

	v2, err := h2.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c2", v2)

	// c1 must already be done when c2's result is available.
	select {
	case <-h1.Done():
	default:
		t.Fatal("c1 did not finish before c2's result was produced")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"c1", "c2"}, finished)
}

func TestSerialQueueStartsInOrder(t *testing.T) {
	q := New(Serial, "test-serial-start")

	var mu sync.Mutex
	var starts []int
	var handles []*Handle[int]
	for i := 0; i < 10; i++ {
		i := i
		handles = append(handles, Enqueue(q, types.PriorityMedium, func(ctx context.Context) (int, error) {
			mu.Lock()
			starts = append(starts, i)
			mu.Unlock()
			return i, nil
		}))
	}
	for i, h := range handles {
		v, err := h.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, starts)
}

func TestEnqueueRoundTripsValue(t *testing.T) {
	q := New(Concurrent, "test-roundtrip")
	h := Enqueue(q, types.PriorityHigh, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	v, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFailingClosureDoesNotBlockDependents(t *testing.T) {
	q := New(Serial, "test-failure")
	boom := errors.New("boom")

	h1 := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	h2 := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (int, error) {
		return 7, nil
	})

	_, err := h1.Await(context.Background())
	assert.ErrorIs(t, err, boom)

	v, err := h2.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestConcurrentQueueRunsInParallel(t *testing.T) {
	q := New(Concurrent, "test-parallel")

	// Two closures that each wait for the other prove they overlap.
	rendezvous := make(chan struct{})
	h1 := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		rendezvous <- struct{}{}
		return struct{}{}, nil
	})
	h2 := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		<-rendezvous
		return struct{}{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h1.Await(ctx)
	require.NoError(t, err)
	_, err = h2.Await(ctx)
	require.NoError(t, err)
}

func TestBarrierFencesBothSides(t *testing.T) {
	q := New(Concurrent, "test-barrier")

	var mu sync.Mutex
	phase := map[string]int{}
	seq := 0
	mark := func(name string) {
		mu.Lock()
		seq++
		phase[name] = seq
		mu.Unlock()
	}

	before1 := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		time.Sleep(20 * time.Millisecond)
		mark("a1")
		return struct{}{}, nil
	})
	before2 := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		time.Sleep(5 * time.Millisecond)
		mark("a2")
		return struct{}{}, nil
	})
	barrier := EnqueueBarrier(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		mark("b")
		return struct{}{}, nil
	})
	after := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		mark("c1")
		return struct{}{}, nil
	})

	for _, h := range []*Handle[struct{}]{before1, before2, barrier, after} {
		_, err := h.Await(context.Background())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, phase["a1"], phase["b"])
	assert.Less(t, phase["a2"], phase["b"])
	assert.Less(t, phase["b"], phase["c1"])
}

func TestBarrierAsFirstClosure(t *testing.T) {
	q := New(Concurrent, "test-first-barrier")
	h := EnqueueBarrier(q, types.PriorityMedium, func(ctx context.Context) (string, error) {
		return "ran", nil
	})
	v, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ran", v)
}

func TestNonBarrierWaitsOnlyForLastBarrier(t *testing.T) {
	q := New(Concurrent, "test-after-barrier")

	release := make(chan struct{})
	barrierRunning := make(chan struct{})
	EnqueueBarrier(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		close(barrierRunning)
		<-release
		return struct{}{}, nil
	})
	<-barrierRunning

	started := make(chan struct{})
	h := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		close(started)
		return struct{}{}, nil
	})

	select {
	case <-started:
		t.Fatal("closure started while the barrier was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	_, err := h.Await(context.Background())
	require.NoError(t, err)
}

func TestHandleCancelPropagatesToClosureContext(t *testing.T) {
	q := New(Serial, "test-cancel")

	observed := make(chan error, 1)
	h := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		observed <- ctx.Err()
		return struct{}{}, ctx.Err()
	})

	h.Cancel()
	_, err := h.Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, <-observed, context.Canceled)
}

func TestCancelledEntryPreservesSerialOrdering(t *testing.T) {
	q := New(Serial, "test-cancel-order")

	release := make(chan struct{})
	running := make(chan struct{})
	Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		close(running)
		<-release
		return struct{}{}, nil
	})
	<-running

	// The middle entry is cancelled before it runs; the entry after it
	// must still wait for the first closure to finish.
	middle := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, ctx.Err()
	})
	middle.Cancel()

	started := make(chan struct{})
	last := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		close(started)
		return struct{}{}, nil
	})

	select {
	case <-started:
		t.Fatal("later closure started before the first one finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	_, err := last.Await(context.Background())
	require.NoError(t, err)
}

func TestEnqueueOnClosedQueue(t *testing.T) {
	q := New(Serial, "test-closed")
	q.Close()
	h := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	_, err := h.Await(context.Background())
	require.Error(t, err)
	var callerErr *hosterrors.CallerError
	assert.ErrorAs(t, err, &callerErr)
}

func TestAwaitHonorsWaiterContext(t *testing.T) {
	q := New(Serial, "test-await-ctx")
	release := make(chan struct{})
	h := Enqueue(q, types.PriorityMedium, func(ctx context.Context) (struct{}, error) {
		<-release
		return struct{}{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = h.Await(context.Background())
	require.NoError(t, err)
}
