package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandasync/internal/metrics"
	"github.com/roach88/tandasync/internal/store"
	"github.com/roach88/tandasync/internal/tanda"
)

type fakeSource struct {
	mu     sync.Mutex
	tandas []tanda.Tanda
	err    error
	calls  atomic.Int32
}

func (s *fakeSource) FetchTandas(ctx context.Context) ([]tanda.Tanda, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return cloneAll(s.tandas), nil
}

func (s *fakeSource) set(ts []tanda.Tanda, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tandas, s.err = ts, err
}

func seed(t *testing.T, c *Cache, ts ...tanda.Tanda) {
	t.Helper()
	for _, tn := range ts {
		require.NoError(t, c.PutLocal(context.Background(), tn))
	}
}

func TestCache_LoadEmpty(t *testing.T) {
	c := NewCache(store.NewMemory(), &fakeSource{})

	ts, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestCache_PutLocalPersists(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	c := NewCache(kv, &fakeSource{})
	require.NoError(t, c.PutLocal(ctx, mk("local_1", "first", 5)))
	require.NoError(t, c.PutLocal(ctx, mk("local_1", "renamed", 5)))
	require.NoError(t, c.PutLocal(ctx, mk("local_2", "second", 5)))

	reopened := NewCache(kv, &fakeSource{})
	ts, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"local_1", "local_2"}, ids(ts))
	assert.Equal(t, "renamed", ts[0].Name)
}

func TestCache_RefreshMergesAndPersists(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()
	src := &fakeSource{}
	src.set([]tanda.Tanda{mk("A", "remote", 20)}, nil)

	m := metrics.New(prometheus.NewRegistry())
	c := NewCache(kv, src, WithMetrics(m))
	seed(t, c, mk("A", "stale", 10), mk("local_B", "offline", 5))

	ts, rep, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "local_B"}, ids(ts))
	assert.Equal(t, "remote", ts[0].Name)
	assert.Equal(t, Report{Remote: 1, LocalOnly: 1, Replaced: 1}, rep)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.LocalOnly))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Syncs.WithLabelValues("ok")))

	reopened, err := NewCache(kv, src).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(ts, reopened))
}

func TestCache_RefreshFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set(nil, errors.New("network down"))

	c := NewCache(store.NewMemory(), src)
	require.NoError(t, c.PutLocal(ctx, mk("local_1", "", 5)))

	_, _, err := c.Refresh(ctx)
	require.Error(t, err)

	ts, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"local_1"}, ids(ts))
}

func TestCache_RefreshAsyncSwallowsErrors(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set(nil, errors.New("timeout"))

	c := NewCache(store.NewMemory(), src)
	<-c.RefreshAsync(ctx)
	c.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	ts, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestCache_RefreshAsyncUpdates(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set([]tanda.Tanda{mk("A", "", 1)}, nil)

	c := NewCache(store.NewMemory(), src)
	before, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, before)

	<-c.RefreshAsync(ctx)

	after, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(after))
}

func TestCache_RemoveAndGet(t *testing.T) {
	ctx := context.Background()
	c := NewCache(store.NewMemory(), &fakeSource{})
	seed(t, c, mk("A", "", 1), mk("B", "", 1))

	require.NoError(t, c.Remove(ctx, "A"))
	require.NoError(t, c.Remove(ctx, "missing"))

	_, ok, err := c.Get(ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)

	b, ok, err := c.Get(ctx, "B")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", b.ID)
}

func TestCache_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewCache(store.NewMemory(), &fakeSource{})
	seed(t, c, mk("A", "", 1))

	ts, err := c.Load(ctx)
	require.NoError(t, err)
	ts[0].Participants[0].HasDeposited = true

	again, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, again[0].Participants[0].HasDeposited)
}
