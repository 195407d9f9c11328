// Package storetest holds the conformance suite every store.KV backend runs.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandasync/internal/store"
)

// Factory opens a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) store.KV

// Run exercises the KV contract against the backend built by newKV.
func Run(t *testing.T, newKV Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		kv := newKV(t)
		_, err := kv.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SetGetRoundTrip", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "a", []byte("one")))
		got, err := kv.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got)
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "a", []byte("one")))
		require.NoError(t, kv.Set(ctx, "a", []byte("two")))
		got, err := kv.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "empty", []byte{}))
		got, err := kv.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "a", []byte("one")))
		require.NoError(t, kv.Delete(ctx, "a"))
		require.NoError(t, kv.Delete(ctx, "a"))
		_, err := kv.Get(ctx, "a")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("KeysByPrefixOrdered", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		for _, k := range []string{"deposit/B/w/1", "deposit/A/w/2", "reputation/w", "deposit/A/w/1"} {
			require.NoError(t, kv.Set(ctx, k, []byte("x")))
		}

		keys, err := kv.Keys(ctx, "deposit/")
		require.NoError(t, err)
		assert.Equal(t, []string{"deposit/A/w/1", "deposit/A/w/2", "deposit/B/w/1"}, keys)

		none, err := kv.Keys(ctx, "cache/")
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("ReturnedValueIsACopy", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "a", []byte("abc")))
		got, err := kv.Get(ctx, "a")
		require.NoError(t, err)
		got[0] = 'z'

		again, err := kv.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("JSONHelpers", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		type rec struct {
			Name string `json:"name"`
			N    int    `json:"n"`
		}
		require.NoError(t, store.PutJSON(ctx, kv, "j", rec{Name: "<Ana & Beto>", N: 3}))

		raw, err := kv.Get(ctx, "j")
		require.NoError(t, err)
		assert.Equal(t, `{"name":"<Ana & Beto>","n":3}`, string(raw))

		var out rec
		require.NoError(t, store.GetJSON(ctx, kv, "j", &out))
		assert.Equal(t, rec{Name: "<Ana & Beto>", N: 3}, out)

		assert.ErrorIs(t, store.GetJSON(ctx, kv, "missing", &out), store.ErrNotFound)
	})
}
