package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/rview/viewer/filesystem/common"
	"github.com/ZanzyTHEbar/rview/viewer/imaging"
	"github.com/ZanzyTHEbar/rview/viewer/workerpool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// fakeDecoder counts calls per path and can hold or fail individual paths.
type fakeDecoder struct {
	mu     sync.Mutex
	calls  map[string]int
	gates  map[string]chan struct{}
	fail   map[string]int // remaining failures per path
	panics map[string]bool
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		calls:  make(map[string]int),
		gates:  make(map[string]chan struct{}),
		fail:   make(map[string]int),
		panics: make(map[string]bool),
	}
}

// hold makes decodes of path block until the returned func is called.
func (d *fakeDecoder) hold(path string) func() {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gates[path] = gate
	d.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (d *fakeDecoder) failNext(path string, n int) {
	d.mu.Lock()
	d.fail[path] = n
	d.mu.Unlock()
}

func (d *fakeDecoder) count(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[path]
}

func (d *fakeDecoder) snapshot() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.calls))
	for k, v := range d.calls {
		out[k] = v
	}
	return out
}

func (d *fakeDecoder) Decode(_ context.Context, path string) (*imaging.PixelBuffer, error) {
	d.mu.Lock()
	d.calls[path]++
	gate := d.gates[path]
	failing := d.fail[path] > 0
	if failing {
		d.fail[path]--
	}
	panicking := d.panics[path]
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if panicking {
		panic("decoder exploded")
	}
	if failing {
		return nil, errBoom
	}
	return &imaging.PixelBuffer{Path: path, Width: 1, Height: 1, Pix: make([]float32, imaging.Channels)}, nil
}

func paths(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("/img/%03d.png", i)
	}
	return out
}

func newTestCache(t *testing.T, dec imaging.Decoder, windowSize int, opts ...Option) *Cache {
	t.Helper()
	c, err := New(dec, Config{WindowSize: windowSize, WorkerCount: 4}, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// isCompleted reports whether path currently sits in the completed map.
func isCompleted(c *Cache, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.completed[path]
	return ok
}

func isWarm(c *Cache, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, done := c.completed[path]
	_, pending := c.pending[path]
	return done || pending
}

func TestNew_Validation(t *testing.T) {
	dec := newFakeDecoder()

	_, err := New(dec, Config{WindowSize: 0, WorkerCount: 2})
	assert.ErrorIs(t, err, common.ErrInvalidWindowSize)

	_, err = New(dec, Config{WindowSize: 3, WorkerCount: 0})
	assert.ErrorIs(t, err, common.ErrInvalidWorkerCount)

	c, err := New(dec, DefaultConfig())
	require.NoError(t, err)
	c.Close()
}

func TestCache_GetOutsideWorkingSet(t *testing.T) {
	dec := newFakeDecoder()
	c := newTestCache(t, dec, 3)

	_, err := c.Get(context.Background(), "/img/000.png")
	assert.ErrorIs(t, err, common.ErrNotInWorkingSet, "empty cache knows no paths")

	require.NoError(t, c.SetWorkingSet(paths(5)))
	require.Eventually(t, func() bool { return c.Stats().Completed == 3 }, time.Second, time.Millisecond)

	buf, err := c.Get(context.Background(), "/elsewhere/x.png")
	assert.ErrorIs(t, err, common.ErrNotInWorkingSet)
	assert.Nil(t, buf)
	assert.Zero(t, dec.count("/elsewhere/x.png"))
	assert.False(t, c.Contains("/elsewhere/x.png"))
	assert.True(t, c.Contains("/img/004.png"))

	// Nothing new was submitted and the window did not move.
	stats := c.Stats()
	assert.Equal(t, 0, stats.WindowStart)
	assert.Equal(t, 3, stats.WindowEnd)
	assert.Len(t, dec.snapshot(), 3)
}

func TestCache_SetWorkingSetSeedsLeadingWindow(t *testing.T) {
	dec := newFakeDecoder()
	pool, err := workerpool.New(2)
	require.NoError(t, err)
	c := newTestCache(t, dec, 4, WithPool(pool))

	all := paths(10)
	require.NoError(t, c.SetWorkingSet(all))

	// Draining the shared pool runs exactly the seeded jobs.
	pool.Shutdown()

	calls := dec.snapshot()
	assert.Len(t, calls, 4)
	for i, p := range all {
		if i < 4 {
			assert.Equal(t, 1, calls[p], "seeded path %s", p)
		} else {
			assert.Zero(t, calls[p], "path %s is outside the window", p)
		}
	}

	stats := c.Stats()
	assert.Equal(t, 10, stats.WorkingSet)
	assert.Equal(t, 4, stats.Completed)
	assert.Zero(t, stats.Pending)
}

func TestCache_SetWorkingSetDoesNotBlock(t *testing.T) {
	dec := newFakeDecoder()
	all := paths(3)
	var releases []func()
	for _, p := range all {
		releases = append(releases, dec.hold(p))
	}
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	c := newTestCache(t, dec, 3)

	done := make(chan error, 1)
	go func() { done <- c.SetWorkingSet(all) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SetWorkingSet waited on a decode")
	}
	assert.Equal(t, 3, c.Stats().Pending)
}

func TestCache_GetServesCompletedWithoutDecoding(t *testing.T) {
	dec := newFakeDecoder()
	metrics := common.NewPrefetchMetrics()
	c := newTestCache(t, dec, 3, WithMetrics(metrics))

	all := paths(5)
	require.NoError(t, c.SetWorkingSet(all))
	require.Eventually(t, func() bool { return isCompleted(c, all[0]) }, time.Second, time.Millisecond)

	buf, err := c.Get(context.Background(), all[0])
	require.NoError(t, err)
	assert.Equal(t, all[0], buf.Path)
	assert.Equal(t, 1, dec.count(all[0]))
	assert.Equal(t, int64(1), metrics.Hits)
}

func TestCache_GetWaitsOnPendingLoad(t *testing.T) {
	dec := newFakeDecoder()
	all := paths(5)
	release := dec.hold(all[1])
	defer release()

	c := newTestCache(t, dec, 3)
	require.NoError(t, c.SetWorkingSet(all))

	got := make(chan *imaging.PixelBuffer, 1)
	go func() {
		buf, err := c.Get(context.Background(), all[1])
		if err == nil {
			got <- buf
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("Get returned before the decode finished")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	buf, ok := <-got
	require.True(t, ok)
	require.NotNil(t, buf)
	assert.Equal(t, all[1], buf.Path)
	assert.Equal(t, 1, dec.count(all[1]))
}

func TestCache_SingleFlight(t *testing.T) {
	dec := newFakeDecoder()
	all := paths(10)
	target := all[7] // outside the seeded window
	release := dec.hold(target)

	c := newTestCache(t, dec, 2)
	require.NoError(t, c.SetWorkingSet(all))

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*imaging.PixelBuffer, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), target)
		}()
	}

	require.Eventually(t, func() bool { return dec.count(target) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 1, dec.count(target), "concurrent callers share one decode")
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestCache_RoundTripEvictsAndReloads(t *testing.T) {
	dec := newFakeDecoder()
	c := newTestCache(t, dec, 3)

	names := []string{"A", "B", "C", "D", "E"}
	require.NoError(t, c.SetWorkingSet(names))

	buf, err := c.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "A", buf.Path)
	assert.Equal(t, 1, dec.count("A"))

	buf, err = c.Get(context.Background(), "D")
	require.NoError(t, err)
	assert.Equal(t, "D", buf.Path)

	stats := c.Stats()
	assert.Equal(t, 2, stats.WindowStart)
	assert.Equal(t, 5, stats.WindowEnd)
	assert.False(t, isWarm(c, "A"), "A fell out of the window")
	assert.False(t, isWarm(c, "B"), "B fell out of the window")

	buf, err = c.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "A", buf.Path)
	assert.Equal(t, 2, dec.count("A"), "A was decoded again instead of served from cache")
}

func TestCache_DecodeFailureIsNotCached(t *testing.T) {
	dec := newFakeDecoder()
	all := paths(5)
	dec.failNext(all[3], 1)

	c := newTestCache(t, dec, 2)
	require.NoError(t, c.SetWorkingSet(all))

	_, err := c.Get(context.Background(), all[3])
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDecodeFailure)
	assert.ErrorIs(t, err, errBoom)

	var de *common.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, all[3], de.Path)

	// Other paths are unaffected.
	buf, err := c.Get(context.Background(), all[4])
	require.NoError(t, err)
	assert.Equal(t, all[4], buf.Path)

	// A retry decodes again and succeeds.
	buf, err = c.Get(context.Background(), all[3])
	require.NoError(t, err)
	assert.Equal(t, all[3], buf.Path)
	assert.Equal(t, 2, dec.count(all[3]))
}

func TestCache_FailureWhileWaitingSkipsRecenter(t *testing.T) {
	dec := newFakeDecoder()
	all := paths(8)
	dec.failNext(all[1], 1)
	release := dec.hold(all[1])
	defer release()

	c := newTestCache(t, dec, 3)
	require.NoError(t, c.SetWorkingSet(all))

	errs := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), all[1])
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	release()

	assert.ErrorIs(t, <-errs, common.ErrDecodeFailure)

	stats := c.Stats()
	assert.Equal(t, 0, stats.WindowStart)
	assert.Equal(t, 3, stats.WindowEnd)
}

func TestCache_PanickingDecoder(t *testing.T) {
	dec := newFakeDecoder()
	dec.panics["/img/000.png"] = true

	c := newTestCache(t, dec, 2)
	require.NoError(t, c.SetWorkingSet(paths(3)))

	_, err := c.Get(context.Background(), "/img/000.png")
	assert.ErrorIs(t, err, common.ErrDecodeFailure)

	buf, err := c.Get(context.Background(), "/img/001.png")
	require.NoError(t, err)
	assert.Equal(t, "/img/001.png", buf.Path)
}

func TestCache_WarmCountStaysWithinWindow(t *testing.T) {
	dec := newFakeDecoder()
	const windowSize = 5
	c := newTestCache(t, dec, windowSize)

	all := paths(40)
	require.NoError(t, c.SetWorkingSet(all))
	assert.LessOrEqual(t, c.Stats().Warm(), windowSize)

	for _, p := range all {
		buf, err := c.Get(context.Background(), p)
		require.NoError(t, err)
		require.Equal(t, p, buf.Path)
		assert.LessOrEqual(t, c.Stats().Warm(), windowSize, "after Get(%s)", p)
	}

	// Walking backwards keeps the bound too.
	for i := len(all) - 1; i >= 0; i-- {
		_, err := c.Get(context.Background(), all[i])
		require.NoError(t, err)
		assert.LessOrEqual(t, c.Stats().Warm(), windowSize)
	}
}

func TestCache_ForwardBrowsingKeepsHorizonAhead(t *testing.T) {
	dec := newFakeDecoder()
	c := newTestCache(t, dec, 6)

	all := paths(20)
	require.NoError(t, c.SetWorkingSet(all))

	_, err := c.Get(context.Background(), all[10])
	require.NoError(t, err)

	// Focus sits at offset 6/2-1 = 2 in the window.
	stats := c.Stats()
	assert.Equal(t, 8, stats.WindowStart)
	assert.Equal(t, 14, stats.WindowEnd)
	for i := 11; i < 14; i++ {
		assert.True(t, isWarm(c, all[i]), "path ahead %d should be warm", i)
	}
}

func TestCache_EvictedLoadResultIsDropped(t *testing.T) {
	dec := newFakeDecoder()
	all := paths(6)
	release := dec.hold(all[0])

	c := newTestCache(t, dec, 1)
	require.NoError(t, c.SetWorkingSet(all))

	// Moving to the last path evicts the in-flight load of the first.
	_, err := c.Get(context.Background(), all[5])
	require.NoError(t, err)
	assert.False(t, isWarm(c, all[0]))

	release()
	require.Eventually(t, func() bool { return dec.count(all[0]) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, isCompleted(c, all[0]), "late result must not be retained")
	assert.Equal(t, 1, c.Stats().Warm())
}

func TestCache_ReplacedWorkingSetDropsOldResults(t *testing.T) {
	dec := newFakeDecoder()
	release := dec.hold("old-a")

	c := newTestCache(t, dec, 2)
	require.NoError(t, c.SetWorkingSet([]string{"old-a", "old-b"}))
	require.NoError(t, c.SetWorkingSet([]string{"new-a", "new-b", "new-c"}))

	release()
	require.Eventually(t, func() bool { return c.Stats().Completed == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, isCompleted(c, "old-a"))
	assert.True(t, isCompleted(c, "new-a"))
	assert.False(t, c.Contains("old-b"))

	_, err := c.Get(context.Background(), "old-b")
	assert.ErrorIs(t, err, common.ErrNotInWorkingSet)
}

func TestCache_GetHonoursContextDeadline(t *testing.T) {
	dec := newFakeDecoder()
	all := paths(3)
	release := dec.hold(all[0])
	defer release()

	c := newTestCache(t, dec, 2)
	require.NoError(t, c.SetWorkingSet(all))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, all[0])
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, isWarm(c, all[0]), "the load keeps running after the caller gives up")
}

func TestCache_ClosedPoolRejects(t *testing.T) {
	dec := newFakeDecoder()
	c, err := New(dec, Config{WindowSize: 2, WorkerCount: 1})
	require.NoError(t, err)

	all := paths(6)
	require.NoError(t, c.SetWorkingSet(all))
	c.Close()

	// Already decoded paths are still served.
	buf, err := c.Get(context.Background(), all[0])
	require.NoError(t, err)
	assert.Equal(t, all[0], buf.Path)

	_, err = c.Get(context.Background(), all[5])
	assert.ErrorIs(t, err, common.ErrPoolRejected)

	assert.ErrorIs(t, c.SetWorkingSet(all), common.ErrPoolRejected)
}

func TestCache_ClosedPoolServesCompletedWithoutMovingWindow(t *testing.T) {
	dec := newFakeDecoder()
	c, err := New(dec, Config{WindowSize: 2, WorkerCount: 2})
	require.NoError(t, err)

	all := paths(6)
	require.NoError(t, c.SetWorkingSet(all))
	require.Eventually(t, func() bool { return c.Stats().Completed == 2 }, time.Second, time.Millisecond)
	c.Close()

	// Recentering on all[1] would need a load for all[2].
	buf, err := c.Get(context.Background(), all[1])
	require.NoError(t, err)
	assert.Equal(t, all[1], buf.Path)

	stats := c.Stats()
	assert.Equal(t, 0, stats.WindowStart)
	assert.Equal(t, 2, stats.WindowEnd)
	assert.Equal(t, 2, stats.Completed)
	assert.True(t, isCompleted(c, all[0]), "nothing is evicted when the window cannot move")
	assert.Zero(t, dec.count(all[2]))
}

func TestCache_DuplicatePathsCollapse(t *testing.T) {
	dec := newFakeDecoder()
	pool, err := workerpool.New(1)
	require.NoError(t, err)
	c := newTestCache(t, dec, 3, WithPool(pool))

	require.NoError(t, c.SetWorkingSet([]string{"a", "a", "b", "c", "d"}))
	pool.Shutdown()

	assert.Equal(t, 4, c.Stats().WorkingSet)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, dec.snapshot())
}
