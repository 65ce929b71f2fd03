// Package prefetch keeps a sliding window of decoded images warm around the
// image the user is looking at.
//
// The cache owns three pieces of state behind one mutex: the working set
// (ordered paths), the completed buffers and the pending load handles. Decoding
// runs on a worker pool with the mutex released. A worker retires its pending
// entry into the completed map only if the entry is still its own handle, so
// results for paths that left the window (or a replaced working set) are
// dropped rather than resurrected.
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/rview/viewer/filesystem/common"
	"github.com/ZanzyTHEbar/rview/viewer/imaging"
	"github.com/ZanzyTHEbar/rview/viewer/workerpool"

	"github.com/rs/zerolog"
)

// Default sizing, matching the desktop viewer.
const (
	DefaultWindowSize  = 15
	DefaultWorkerCount = 8
)

// LoadHandle is the one-shot result of a single decode.
type LoadHandle = workerpool.Future[*imaging.PixelBuffer]

// Metrics receives cache events. common.PrefetchMetrics and the Prometheus
// exporter both implement it.
type Metrics interface {
	ObserveHit()
	ObserveWait()
	ObserveMiss()
	ObserveDecode(duration time.Duration, err error)
	ObserveEviction(n int)
	SetWarm(pending, completed int)
}

// Config is fixed at construction.
type Config struct {
	WindowSize  int
	WorkerCount int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:  DefaultWindowSize,
		WorkerCount: DefaultWorkerCount,
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithPool runs decodes on an existing pool. The cache will not shut it down.
func WithPool(p *workerpool.Pool) Option {
	return func(c *Cache) {
		c.pool = p
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink. A nil sink keeps the default.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	WorkingSet  int
	WindowStart int
	WindowEnd   int
	Pending     int
	Completed   int
}

// Warm returns the number of paths that are pending or completed.
func (s Stats) Warm() int {
	return s.Pending + s.Completed
}

// Cache is the asynchronous image prefetch cache.
type Cache struct {
	decoder    imaging.Decoder
	windowSize int
	pool       *workerpool.Pool
	ownsPool   bool
	logger     zerolog.Logger
	metrics    Metrics

	mu        sync.Mutex
	set       *workingSet
	window    window
	completed map[string]*imaging.PixelBuffer
	pending   map[string]*LoadHandle
}

// New creates a cache that decodes with decoder. Unless WithPool is given it
// starts its own pool of cfg.WorkerCount workers.
func New(decoder imaging.Decoder, cfg Config, opts ...Option) (*Cache, error) {
	if cfg.WindowSize < 1 {
		return nil, common.ErrInvalidWindowSize
	}

	empty, _ := newWorkingSet(nil)
	c := &Cache{
		decoder:    decoder,
		windowSize: cfg.WindowSize,
		logger:     zerolog.Nop(),
		metrics:    common.NewPrefetchMetrics(),
		set:        empty,
		window:     newWindow(0, 0),
		completed:  make(map[string]*imaging.PixelBuffer),
		pending:    make(map[string]*LoadHandle),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.pool == nil {
		p, err := workerpool.New(cfg.WorkerCount, workerpool.WithLogger(c.logger))
		if err != nil {
			return nil, err
		}
		c.pool = p
		c.ownsPool = true
	}

	return c, nil
}

// SetWorkingSet replaces the working set and starts loading its first
// window. Loads still running for the previous set finish but their results
// are discarded. It never waits for a decode.
func (c *Cache) SetWorkingSet(paths []string) error {
	set, dropped := newWorkingSet(paths)
	if dropped > 0 {
		c.logger.Warn().Int("duplicates", dropped).Msg("Dropped duplicate paths from working set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.set = set
	c.completed = make(map[string]*imaging.PixelBuffer)
	c.pending = make(map[string]*LoadHandle)
	c.window = leadingWindow(set.Len(), c.windowSize)

	for i := c.window.Start; i < c.window.End; i++ {
		if _, err := c.submitLocked(set.At(i)); err != nil {
			return err
		}
	}
	c.reportWarmLocked()

	c.logger.Debug().
		Int("paths", set.Len()).
		Int("window_start", c.window.Start).
		Int("window_end", c.window.End).
		Msg("Working set replaced")
	return nil
}

// Get returns the image for path, waiting for its decode if necessary, and
// recenters the prefetch window on it. path must belong to the working set.
//
// ctx bounds only the wait; the decode itself is never cancelled. Passing
// context.Background() waits for as long as the decoder takes. An image that
// is already at hand is returned even if the window cannot be refilled.
func (c *Cache) Get(ctx context.Context, path string) (*imaging.PixelBuffer, error) {
	c.mu.Lock()
	if _, ok := c.set.IndexOf(path); !ok {
		c.mu.Unlock()
		return nil, common.NotInWorkingSet(path)
	}
	result := c.completed[path]
	var handle *LoadHandle
	if result == nil {
		handle = c.pending[path]
	}
	c.mu.Unlock()

	switch {
	case result != nil:
		c.metrics.ObserveHit()
	case handle != nil:
		c.metrics.ObserveWait()
		buf, err := handle.Wait(ctx)
		if err != nil {
			return nil, err
		}
		result = buf
	default:
		c.metrics.ObserveMiss()
	}

	c.mu.Lock()
	idx, ok := c.set.IndexOf(path)
	if !ok {
		// The working set was replaced while we waited.
		c.mu.Unlock()
		if result != nil {
			return result, nil
		}
		return nil, common.NotInWorkingSet(path)
	}

	if err := c.recenterLocked(idx, path); err != nil {
		c.mu.Unlock()
		if result != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("Prefetch window not moved")
			return result, nil
		}
		return nil, err
	}

	if result == nil {
		if buf, done := c.completed[path]; done {
			result = buf
		} else {
			handle = c.pending[path]
		}
	}
	c.mu.Unlock()

	if result != nil {
		return result, nil
	}
	return handle.Wait(ctx)
}

// Contains reports whether path is in the current working set.
func (c *Cache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.set.IndexOf(path)
	return ok
}

// Stats returns the current sizes of the cache state.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		WorkingSet:  c.set.Len(),
		WindowStart: c.window.Start,
		WindowEnd:   c.window.End,
		Pending:     len(c.pending),
		Completed:   len(c.completed),
	}
}

// Close shuts down the pool if the cache created it, after the queued
// decodes have run. Later calls that need a decode fail with ErrPoolRejected.
func (c *Cache) Close() {
	if c.ownsPool {
		c.pool.Shutdown()
	}
}

// recenterLocked moves the window onto position idx, evicts everything that
// fell out of it and submits loads for everything new, path first. If the
// pool no longer accepts work and a load is needed, nothing is changed.
func (c *Cache) recenterLocked(idx int, path string) error {
	w := focusWindow(idx, c.set.Len(), c.windowSize)

	if !c.pool.Accepting() && c.needsLoadLocked(w, path) {
		return common.ErrPoolRejected
	}
	c.window = w

	evicted := 0
	for p := range c.pending {
		if i, ok := c.set.IndexOf(p); !ok || !w.Contains(i) {
			delete(c.pending, p)
			evicted++
		}
	}
	for p := range c.completed {
		if i, ok := c.set.IndexOf(p); !ok || !w.Contains(i) {
			delete(c.completed, p)
			evicted++
		}
	}
	if evicted > 0 {
		c.metrics.ObserveEviction(evicted)
	}

	if _, err := c.ensureLocked(path); err != nil {
		return err
	}
	for i := w.Start; i < w.End; i++ {
		if _, err := c.ensureLocked(c.set.At(i)); err != nil {
			return err
		}
	}

	c.reportWarmLocked()
	return nil
}

// needsLoadLocked reports whether filling w around path would submit a load.
func (c *Cache) needsLoadLocked(w window, path string) bool {
	if !c.warmLocked(path) {
		return true
	}
	for i := w.Start; i < w.End; i++ {
		if !c.warmLocked(c.set.At(i)) {
			return true
		}
	}
	return false
}

func (c *Cache) warmLocked(path string) bool {
	if _, done := c.completed[path]; done {
		return true
	}
	_, pending := c.pending[path]
	return pending
}

// ensureLocked submits a load for path unless it is already warm.
func (c *Cache) ensureLocked(path string) (*LoadHandle, error) {
	if _, done := c.completed[path]; done {
		return nil, nil
	}
	if h, ok := c.pending[path]; ok {
		return h, nil
	}
	return c.submitLocked(path)
}

// submitLocked records a new handle for path and queues its decode.
func (c *Cache) submitLocked(path string) (*LoadHandle, error) {
	h := workerpool.NewFuture[*imaging.PixelBuffer]()
	if err := c.pool.Go(func() { c.load(path, h) }); err != nil {
		return nil, err
	}
	c.pending[path] = h

	c.logger.Debug().Str("path", path).Str("load", h.ID().String()).Msg("Load submitted")
	return h, nil
}

// load runs on a pool worker.
func (c *Cache) load(path string, h *LoadHandle) {
	start := time.Now()
	buf, err := workerpool.Protect(func() (*imaging.PixelBuffer, error) {
		return c.decoder.Decode(context.Background(), path)
	})
	if err == nil && buf == nil {
		err = common.ErrDecodeFailure
	}
	if err != nil {
		buf = nil
	}
	err = common.NewDecodeError(path, err)
	c.metrics.ObserveDecode(time.Since(start), err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[path] == h {
		delete(c.pending, path)
		if err == nil {
			c.completed[path] = buf
		}
		c.reportWarmLocked()
	} else {
		c.logger.Debug().Str("path", path).Str("load", h.ID().String()).Msg("Load result dropped")
	}

	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Decode failed")
	}
	h.Resolve(buf, err)
}

func (c *Cache) reportWarmLocked() {
	c.metrics.SetWarm(len(c.pending), len(c.completed))
}
