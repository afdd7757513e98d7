package aghos_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/aghos"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

func TestOSWritesWatcher(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "AdGuardDHCP.yaml")

	err := os.WriteFile(name, []byte("schema_version: 1\n"), aghos.DefaultPermFile)
	require.NoError(t, err)

	w, err := aghos.NewOSWritesWatcher(slogutil.NewDiscardLogger())
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	err = w.Start(ctx)
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return w.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	err = w.Add(name)
	require.NoError(t, err)

	t.Run("untracked", func(t *testing.T) {
		err = os.WriteFile(filepath.Join(dir, "other"), []byte("data"), aghos.DefaultPermFile)
		require.NoError(t, err)

		assert.Never(t, func() (ok bool) {
			select {
			case <-w.Events():
				return true
			default:
				return false
			}
		}, testTimeout/10, testTimeout/100)
	})

	t.Run("tracked", func(t *testing.T) {
		err = os.WriteFile(name, []byte("schema_version: 2\n"), aghos.DefaultPermFile)
		require.NoError(t, err)

		testutil.RequireReceive(t, w.Events(), testTimeout)
	})

	t.Run("dir", func(t *testing.T) {
		assert.Error(t, w.Add(dir))
	})
}

func TestEmptyFSWatcher(t *testing.T) {
	w := aghos.EmptyFSWatcher{}

	assert.NoError(t, w.Add("nonexisting"))
	assert.Nil(t, w.Events())
}
