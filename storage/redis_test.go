package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/flownet/types"
	"github.com/songzhibin97/flownet/workflow"
)

// newTestRedis connects to FLOWNET_REDIS_ADDR (default localhost:6379) and
// skips the test when no server answers.
func newTestRedis(t *testing.T) *RedisStorage {
	t.Helper()
	addr := os.Getenv("FLOWNET_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	store, err := NewRedisStorage(RedisOptions{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
	})
	if err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// uniqueName keeps keys of separate runs apart on a shared server.
func uniqueName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func TestRedisStorage(t *testing.T) {
	store := newTestRedis(t)
	ctx := context.Background()

	t.Run("SaveAndGetDefinition", func(t *testing.T) {
		name := uniqueName("StartEnd")
		v1, err := store.SaveDefinition(ctx, newDefinition(name))
		require.NoError(t, err)
		assert.Equal(t, 1, v1)
		v2, err := store.SaveDefinition(ctx, newDefinition(name))
		require.NoError(t, err)
		assert.Equal(t, 2, v2)

		got, err := store.GetDefinition(ctx, name, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, name, got.Name)
		require.Len(t, got.Nodes, 2)
		assert.Equal(t, 2, got.Nodes[0].Edges[0].To)

		latest, err := store.GetDefinition(ctx, name, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
	})

	t.Run("DefinitionNotFound", func(t *testing.T) {
		_, err := store.GetDefinition(ctx, uniqueName("Missing"), 0)
		assert.ErrorIs(t, err, ErrDefinitionNotFound)
		_, err = store.GetDefinition(ctx, uniqueName("Missing"), 3)
		assert.ErrorIs(t, err, ErrDefinitionNotFound)
	})

	t.Run("SaveDefinitions", func(t *testing.T) {
		a, b := uniqueName("A"), uniqueName("B")
		versions, err := store.SaveDefinitions(ctx, []types.Definition{newDefinition(a), newDefinition(b), newDefinition(a)})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1, 2}, versions)

		got, err := store.GetDefinition(ctx, a, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("SaveGetDeleteExecution", func(t *testing.T) {
		id := uint64(time.Now().UnixNano())
		st := newCheckpoint(id, "suspended")
		st.Variables["count"] = 3
		require.NoError(t, store.SaveExecution(ctx, st))

		got, err := store.GetExecution(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "suspended", got.State)
		assert.Equal(t, st.CreatedAt, got.CreatedAt)

		require.NoError(t, store.DeleteExecution(ctx, id))
		_, err = store.GetExecution(ctx, id)
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.SaveDefinition(cctx, newDefinition(uniqueName("Cancelled")))
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.GetExecution(cctx, 1)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ConcurrentVersions", func(t *testing.T) {
		name := uniqueName("Concurrent")
		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := make(map[int]bool)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := store.SaveDefinition(ctx, newDefinition(name))
				assert.NoError(t, err)
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 10)
	})
}

func TestRedisVariableHandler(t *testing.T) {
	store := newTestRedis(t)
	ctx := context.Background()
	h := store.VariableHandler()
	e := workflow.NewExecution(workflow.WithID(uint64(time.Now().UnixNano())))

	v, err := h.Load(ctx, e, "counter")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, h.Save(ctx, e, "counter", 3))
	require.NoError(t, h.Save(ctx, e, "ratio", 0.5))

	v, err = h.Load(ctx, e, "counter")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	v, err = h.Load(ctx, e, "ratio")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestNewRedisStorageUnreachable(t *testing.T) {
	_, err := NewRedisStorage(RedisOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
