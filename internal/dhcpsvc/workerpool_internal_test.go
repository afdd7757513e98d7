package dhcpsvc

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	t.Run("runs", func(t *testing.T) {
		p := newWorkerPool(slogutil.NewDiscardLogger(), 2, 4, testTimeout)
		p.start(ctx)

		done := &atomic.Int32{}
		for range 4 {
			require.True(t, p.trySubmit(func(_ context.Context) { done.Add(1) }))
		}

		p.stop()
		assert.Equal(t, int32(4), done.Load())
	})

	t.Run("overflow", func(t *testing.T) {
		p := newWorkerPool(slogutil.NewDiscardLogger(), 1, 1, testTimeout)

		// The workers aren't started, so the queue is never drained.
		require.True(t, p.trySubmit(func(_ context.Context) {}))
		assert.False(t, p.trySubmit(func(_ context.Context) {}))

		p.start(ctx)
		p.stop()
	})

	t.Run("stopped", func(t *testing.T) {
		p := newWorkerPool(slogutil.NewDiscardLogger(), 1, 1, testTimeout)
		p.start(ctx)
		p.stop()

		assert.False(t, p.trySubmit(func(_ context.Context) {}))
	})

	t.Run("panic", func(t *testing.T) {
		p := newWorkerPool(slogutil.NewDiscardLogger(), 1, 2, testTimeout)
		p.start(ctx)

		done := &atomic.Bool{}
		require.True(t, p.trySubmit(func(_ context.Context) { panic("test") }))
		require.True(t, p.trySubmit(func(_ context.Context) { done.Store(true) }))

		p.stop()
		assert.True(t, done.Load())
	})

	t.Run("timeout", func(t *testing.T) {
		p := newWorkerPool(slogutil.NewDiscardLogger(), 1, 1, testTimeout)
		p.start(ctx)

		hasDeadline := &atomic.Bool{}
		require.True(t, p.trySubmit(func(taskCtx context.Context) {
			_, ok := taskCtx.Deadline()
			hasDeadline.Store(ok)
		}))

		p.stop()
		assert.True(t, hasDeadline.Load())
	})
}
