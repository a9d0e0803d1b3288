package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/require"
)

func TestAcquireImmediateWhenUnderCapacity(t *testing.T) {
	l := New(Config{MaxConcurrent: 1, MaxQueueSize: 1})
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, l.Stats().Active)
	release()
	require.Equal(t, 0, l.Stats().Active)
}

func TestQueueingScenario(t *testing.T) {
	// §8 scenario 6: maxConcurrent=1, maxQueueSize=1, three requests.
	l := New(Config{MaxConcurrent: 1, MaxQueueSize: 1})

	release1, err := l.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan Release, 1)
	go func() {
		r, err := l.Acquire(context.Background())
		require.NoError(t, err)
		done <- r
	}()
	time.Sleep(20 * time.Millisecond) // let the second request enqueue

	_, err = l.Acquire(context.Background())
	require.Error(t, err)
	require.Equal(t, spec.ErrServerBusy, spec.KindOf(err))

	release1()
	release2 := <-done
	release2()
}

func TestQueueTimeout(t *testing.T) {
	l := New(Config{MaxConcurrent: 1, MaxQueueSize: 1, QueueTimeout: 10 * time.Millisecond})
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background())
	require.Equal(t, spec.ErrQueueTimeout, spec.KindOf(err))
}

func TestClientAbortWhileQueued(t *testing.T) {
	l := New(Config{MaxConcurrent: 1, MaxQueueSize: 1})
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx)
	require.Equal(t, spec.ErrClientAborted, spec.KindOf(err))
}

func TestReleaseIdempotent(t *testing.T) {
	l := New(Config{MaxConcurrent: 1, MaxQueueSize: 0})
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()
	release()
	require.Equal(t, 0, l.Stats().Active)
}

func TestUnlimitedConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrent: 0})
	for i := 0; i < 50; i++ {
		_, err := l.Acquire(context.Background())
		require.NoError(t, err)
	}
}
