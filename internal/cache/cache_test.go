package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/textform/internal/compiler"
	"github.com/conneroisu/textform/internal/errors"
)

type fakeModule struct {
	id       string
	released atomic.Int32
}

func (m *fakeModule) Identity() string { return m.id }

func (m *fakeModule) Release() error {
	m.released.Add(1)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestFindAndInsert(t *testing.T) {
	c := New(0, 0)

	_, ok := c.Find("a", "h1")
	assert.False(t, ok)

	m := &fakeModule{id: "a"}
	require.NoError(t, c.Insert("a", "h1", m).Close())

	h, ok := c.Find("a", "h1")
	require.True(t, ok)
	assert.Same(t, m, h.Module)
	assert.True(t, h.Cached())
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	stats := c.Stats()
	assert.Equal(t, Stats{Entries: 1, Hits: 1, Misses: 1, Inserts: 1}, stats)
	assert.Zero(t, m.released.Load())
}

func TestChangedSourceHashDropsEntry(t *testing.T) {
	c := New(0, 0)
	m := &fakeModule{id: "a"}
	require.NoError(t, c.Insert("a", "h1", m).Close())

	_, ok := c.Find("a", "h2")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(1), m.released.Load())
}

func TestReplaceReleasesPrevious(t *testing.T) {
	c := New(0, 0)
	old := &fakeModule{id: "a"}
	require.NoError(t, c.Insert("a", "h1", old).Close())

	fresh := &fakeModule{id: "a"}
	require.NoError(t, c.Insert("a", "h2", fresh).Close())

	assert.Equal(t, int32(1), old.released.Load())
	h, ok := c.Find("a", "h2")
	require.True(t, ok)
	assert.Same(t, fresh, h.Module)
	h.Close()
}

func TestTTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New(0, time.Minute, WithClock(clock.Now))

	m := &fakeModule{id: "a"}
	require.NoError(t, c.Insert("a", "h", m).Close())

	clock.Set(time.Unix(1030, 0))
	h, ok := c.Find("a", "h")
	require.True(t, ok)
	h.Close()

	clock.Set(time.Unix(1061, 0))
	_, ok = c.Find("a", "h")
	assert.False(t, ok)
	assert.Equal(t, int32(1), m.released.Load())
}

func TestLRUEviction(t *testing.T) {
	c := New(2, 0)
	a, b, d := &fakeModule{id: "a"}, &fakeModule{id: "b"}, &fakeModule{id: "d"}

	c.Insert("a", "h", a).Close()
	c.Insert("b", "h", b).Close()

	// touching a makes b the least recently used
	h, ok := c.Find("a", "h")
	require.True(t, ok)
	h.Close()

	c.Insert("d", "h", d).Close()

	_, ok = c.Lookup("b")
	assert.False(t, ok)
	_, ok = c.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, int32(1), b.released.Load())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestLeasedModuleOutlivesEviction(t *testing.T) {
	c := New(1, 0)
	a := &fakeModule{id: "a"}

	lease := c.Insert("a", "h", a)
	c.Insert("b", "h", &fakeModule{id: "b"}).Close()

	assert.Zero(t, a.released.Load())
	require.NoError(t, lease.Close())
	assert.Equal(t, int32(1), a.released.Load())
}

func TestLastAccessIsMonotonic(t *testing.T) {
	clock := &fakeClock{now: time.Unix(2000, 0)}
	c := New(0, 0, WithClock(clock.Now))
	c.Insert("a", "h", &fakeModule{id: "a"}).Close()

	clock.Set(time.Unix(2010, 0))
	h, _ := c.Find("a", "h")
	h.Close()

	clock.Set(time.Unix(1990, 0))
	h, _ = c.Find("a", "h")
	h.Close()

	rec, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, time.Unix(2010, 0), rec.LastAccess)
	assert.Equal(t, time.Unix(2000, 0), rec.CreatedAt)
}

func TestDoCompilesOnce(t *testing.T) {
	c := New(0, 0)
	var compiles atomic.Int32
	gate := make(chan struct{})

	compile := func(context.Context) (*compiler.Result, error) {
		compiles.Add(1)
		<-gate
		return &compiler.Result{Module: &fakeModule{id: "a"}}, nil
	}

	var wg sync.WaitGroup
	handles := make([]*Handle, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, _, err := c.Do(context.Background(), "a", "h", compile)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), compiles.Load())
	for _, h := range handles {
		require.NotNil(t, h)
		assert.Same(t, handles[0].Module, h.Module)
		require.NoError(t, h.Close())
	}
	assert.Equal(t, 1, c.Len())
}

func TestDoCancelledCallerLeavesOthersRunning(t *testing.T) {
	c := New(0, 0)
	started := make(chan struct{})
	gate := make(chan struct{})
	var compiles atomic.Int32

	compile := func(ctx context.Context) (*compiler.Result, error) {
		if compiles.Add(1) == 1 {
			close(started)
		}
		select {
		case <-gate:
			return &compiler.Result{Module: &fakeModule{id: "a"}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, _, err := c.Do(ctxA, "a", "h", compile)
		errA <- err
	}()
	<-started

	type outcome struct {
		h   *Handle
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		h, _, err := c.Do(context.Background(), "a", "h", compile)
		doneB <- outcome{h, err}
	}()

	waitForWaiters(t, c, "a\x00h", 2)
	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(gate)
	b := <-doneB
	require.NoError(t, b.err)
	require.NotNil(t, b.h)
	assert.Equal(t, "a", b.h.Module.Identity())
	require.NoError(t, b.h.Close())
	assert.Equal(t, int32(1), compiles.Load())
	assert.Equal(t, 1, c.Len())
}

func waitForWaiters(t *testing.T, c *ModuleCache, key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.flightsMu.Lock()
		defer c.flightsMu.Unlock()
		fc, ok := c.flights[key]
		return ok && fc.waiters == n
	}, time.Second, time.Millisecond)
}

func TestDoAbandonedCompileIsCancelled(t *testing.T) {
	c := New(0, 0)
	started := make(chan struct{})
	stopped := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := c.Do(ctx, "a", "h", func(ctx context.Context) (*compiler.Result, error) {
			close(started)
			<-ctx.Done()
			stopped <- ctx.Err()
			return nil, ctx.Err()
		})
		errc <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("compile kept running after its only caller left")
	}

	h, _, err := c.Do(context.Background(), "a", "h", func(context.Context) (*compiler.Result, error) {
		return &compiler.Result{Module: &fakeModule{id: "a"}}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, h)
	require.NoError(t, h.Close())
}

func TestDoDoesNotCacheFailures(t *testing.T) {
	c := New(0, 0)
	failed := &compiler.Result{Diagnostics: []errors.Diagnostic{{Severity: errors.SeverityError, Message: "bad"}}}

	h, result, err := c.Do(context.Background(), "a", "h", func(context.Context) (*compiler.Result, error) {
		return failed, nil
	})
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.True(t, result.HasErrors())
	assert.Equal(t, 0, c.Len())

	_, _, err = c.Do(context.Background(), "a", "h", func(ctx context.Context) (*compiler.Result, error) {
		return nil, context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Len())
}

func TestPurgeAndUncached(t *testing.T) {
	c := New(0, 0)
	a, b := &fakeModule{id: "a"}, &fakeModule{id: "b"}
	c.Insert("a", "h", a).Close()
	lease := c.Insert("b", "h", b)

	require.NoError(t, c.Purge())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(1), a.released.Load())
	assert.Zero(t, b.released.Load())
	lease.Close()
	assert.Equal(t, int32(1), b.released.Load())

	own := &fakeModule{id: "own"}
	h := Uncached(own)
	assert.False(t, h.Cached())
	h.Close()
	h.Close()
	assert.Equal(t, int32(1), own.released.Load())

	assert.Same(t, Shared(), Shared())
}

func TestSourceHash(t *testing.T) {
	assert.Equal(t, SourceHash("a", "b"), SourceHash("a", "b"))
	assert.NotEqual(t, SourceHash("ab"), SourceHash("a", "b"))
	assert.Len(t, SourceHash("x"), 64)
}
