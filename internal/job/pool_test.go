package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTaskToCompletion(t *testing.T) {
	m := NewManager(nil)
	p := NewPool(m, 2, 4)

	id, err := p.Submit(context.Background(), TypeSingleDocument, func(ctx context.Context, jobID string) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)

	p.Close()
	got, err := m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
}

func TestPoolRecordsTaskFailure(t *testing.T) {
	m := NewManager(nil)
	p := NewPool(m, 1, 2)

	id, err := p.Submit(context.Background(), TypeSingleDocument, func(ctx context.Context, jobID string) (any, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)

	p.Close()
	got, err := m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	m := NewManager(nil)
	p := NewPool(m, 1, 8)

	var running int32
	var maxSeen int32
	release := make(chan struct{})

	for i := 0; i < 3; i++ {
		_, err := p.Submit(context.Background(), TypeSingleDocument, func(ctx context.Context, jobID string) (any, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil, nil
		})
		require.NoError(t, err)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	p.Close()

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 1)
}

func TestPoolRejectsAfterClose(t *testing.T) {
	m := NewManager(nil)
	p := NewPool(m, 1, 1)
	p.Close()

	_, err := p.Submit(context.Background(), TypeSingleDocument, func(ctx context.Context, jobID string) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
}
