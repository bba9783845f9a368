package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunKeyValueStoreContract runs a suite of tests to verify that a KeyValueStore implementation
// adheres to the defined interface contract.
func RunKeyValueStoreContract(t *testing.T, store KeyValueStore) {
	ctx := context.Background()
	key := "contract-test-" + time.Now().Format("20060102150405")

	t.Run("Set and Get", func(t *testing.T) {
		err := store.Set(ctx, key, `{"foo":"bar"}`, time.Minute)
		require.NoError(t, err, "Set should not return error")

		val, err := store.Get(ctx, key)
		require.NoError(t, err, "Get should not return error")
		assert.Equal(t, `{"foo":"bar"}`, val)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, "v1", time.Minute))
		require.NoError(t, store.Set(ctx, key, "v2", time.Minute))

		val, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", val)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("Del", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, "value", time.Minute))
		require.NoError(t, store.Set(ctx, key+":aux", "value", time.Minute))

		err := store.Del(ctx, key, key+":aux", "never-existed-"+key)
		require.NoError(t, err, "Del should not return error")

		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrKeyNotFound, "Get after Del should return ErrKeyNotFound")
		_, err = store.Get(ctx, key+":aux")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	if lister, ok := store.(KeyLister); ok {
		t.Run("Keys", func(t *testing.T) {
			k1 := key + "-list-1"
			k2 := key + "-list-2"
			require.NoError(t, store.Set(ctx, k1, "a", time.Minute))
			require.NoError(t, store.Set(ctx, k2, "b", time.Minute))
			defer func() {
				_ = store.Del(ctx, k1, k2)
			}()

			keys, err := lister.Keys(ctx, key+"-list-")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{k1, k2}, keys)
		})
	}
}

// RunRecordStoreContract verifies that a RecordStore implementation adheres to the contract.
// The store must accept arbitrary collections.
func RunRecordStoreContract(t *testing.T, store RecordStore) {
	ctx := context.Background()

	t.Run("Create returns distinct ids", func(t *testing.T) {
		id1, err := store.Create(ctx, "contract_items", Fields{"code": "A"})
		require.NoError(t, err)
		id2, err := store.Create(ctx, "contract_items", Fields{"code": "B"})
		require.NoError(t, err)

		assert.NotEmpty(t, id1)
		assert.NotEqual(t, id1, id2)
	})

	t.Run("Exists", func(t *testing.T) {
		_, err := store.Create(ctx, "contract_items", Fields{"code": "EXISTS-1"})
		require.NoError(t, err)

		found, err := store.Exists(ctx, "contract_items", "code", "EXISTS-1")
		require.NoError(t, err)
		assert.True(t, found)

		found, err = store.Exists(ctx, "contract_items", "code", "MISSING-1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Create with reference", func(t *testing.T) {
		parent, err := store.Create(ctx, "contract_parents", Fields{"name": "p"})
		require.NoError(t, err)

		child, err := store.Create(ctx, "contract_children", Fields{
			"parent": Reference{Collection: "contract_parents", ID: parent},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, child)
	})

	t.Run("Delete", func(t *testing.T) {
		id, err := store.Create(ctx, "contract_items", Fields{"code": "DEL-1"})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, "contract_items", id))

		found, err := store.Exists(ctx, "contract_items", "code", "DEL-1")
		require.NoError(t, err)
		assert.False(t, found, "deleted record should not be found")

		err = store.Delete(ctx, "contract_items", id)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}
