package ddns_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/aghtest"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ddns"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher(t *testing.T) {
	var added, deleted atomic.Int32
	sender := &aghtest.Sender{
		OnSendAdd: func(_ context.Context, up *ddns.Update, _ *ddns.Callbacks) (err error) {
			added.Add(1)

			return nil
		},
		OnSendDelete: func(_ context.Context, _ *ddns.Update, _ *ddns.Callbacks) (err error) {
			deleted.Add(1)

			return assert.AnError
		},
	}

	d := ddns.NewDispatcher(&ddns.DispatcherConfig{
		Logger:  aghtest.Logger,
		Sender:  sender,
		Timeout: testTimeout,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	up := &ddns.Update{
		FQDN: "host.example.",
	}

	d.Submit(ctx, &ddns.Job{Update: up})
	d.Submit(ctx, &ddns.Job{Update: up})
	d.Submit(ctx, &ddns.Job{Update: up, Delete: true})

	require.NoError(t, d.Wait(ctx))

	assert.Equal(t, int32(2), added.Load())
	assert.Equal(t, int32(1), deleted.Load())
}

func TestDispatcher_sync(t *testing.T) {
	var called bool
	d := ddns.NewDispatcher(&ddns.DispatcherConfig{
		Logger: aghtest.Logger,
		Sender: &aghtest.Sender{
			OnSendAdd: func(ctx context.Context, _ *ddns.Update, _ *ddns.Callbacks) (err error) {
				called = true

				return ctx.Err()
			},
			OnSendDelete: nil,
		},
		Sync: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The job must outlive the canceled context.
	d.Submit(ctx, &ddns.Job{Update: &ddns.Update{FQDN: "host.example."}})
	assert.True(t, called)
}
