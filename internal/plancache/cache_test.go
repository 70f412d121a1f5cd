package plancache

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrBuild_CachesSuccess(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c, err := New[string](4, WithMetrics(m))
	require.NoError(t, err)

	builds := 0
	build := func() (string, error) {
		builds++
		return "plan", nil
	}
	v, cached, err := c.GetOrBuild("k", build)
	require.NoError(t, err)
	assert.Equal(t, "plan", v)
	assert.False(t, cached)

	v, cached, err = c.GetOrBuild("k", build)
	require.NoError(t, err)
	assert.Equal(t, "plan", v)
	assert.True(t, cached)
	assert.Equal(t, 1, builds)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.Hits))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Misses))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Entries))
}

func TestGetOrBuild_DoesNotCacheFailures(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c, err := New[int](4, WithMetrics(m))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, _, err = c.GetOrBuild("k", func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Failures))

	v, cached, err := c.GetOrBuild("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 7, v)
}

func TestEviction(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c, err := New[int](2, WithMetrics(m))
	require.NoError(t, err)

	for i, k := range []string{"a", "b", "c"} {
		_, _, err := c.GetOrBuild(k, func() (int, error) { return i, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Evictions))

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0.0, promtest.ToFloat64(m.Entries))
}

func TestGetOrBuild_CollapsesConcurrentMisses(t *testing.T) {
	c, err := New[int](8)
	require.NoError(t, err)

	var builds atomic.Int32
	release := make(chan struct{})
	build := func() (int, error) {
		builds.Add(1)
		<-release
		return 42, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := c.GetOrBuild("same", build)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestNew_DefaultSize(t *testing.T) {
	c, err := New[int](0)
	require.NoError(t, err)
	for i := 0; i < DefaultSize+1; i++ {
		_, _, err := c.GetOrBuild(strconv.Itoa(i), func() (int, error) { return i, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultSize, c.Len())
}
