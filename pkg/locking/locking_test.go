package locking

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemLockSerializesSameKey(t *testing.T) {
	group := NewMemLock()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := group.DoWithLock("slot", func() (interface{}, error) {
				n := active.Add(1)
				for {
					cur := maxActive.Load()
					if n <= cur || maxActive.CompareAndSwap(cur, n) {
						break
					}
				}
				active.Add(-1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	group.Lock()
	assert.Empty(t, group.locks)
	group.Unlock()
}

func TestNoOpGroupRunsFunction(t *testing.T) {
	v, err := NewNoOpGroup().DoWithLock("k", func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFileLockRunsFunctionAndReportsBusy(t *testing.T) {
	key := filepath.Join(t.TempDir(), ".locks", "abc")
	group := NewFileLock()

	v, err := group.DoWithLock(key, func() (interface{}, error) {
		// A second descriptor on the same file cannot take the lock.
		_, innerErr := group.DoWithLock(key, func() (interface{}, error) {
			t.Fatal("nested holder must not run")
			return nil, nil
		})
		return "outer", innerErr
	})
	assert.ErrorIs(t, err, ErrLockBusy)
	assert.Equal(t, "outer", v)
	assert.FileExists(t, key+".lock")

	_, err = group.DoWithLock(key, func() (interface{}, error) { return nil, nil })
	assert.NoError(t, err)
}
