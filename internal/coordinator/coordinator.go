package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval is the fixed polling cadence for device coordinators.
const DefaultInterval = 5 * time.Second

// FetchFunc loads one value from the device. Errors should be wrapped with
// UpdateFailed or AuthFailed; anything else is treated as UpdateFailed.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options configure a Coordinator.
type Options struct {
	Name     string
	Interval time.Duration
	Logger   logrus.FieldLogger
	// OnAuthFailed runs on its own goroutine after an auth failure stops
	// a running poll loop.
	OnAuthFailed func(error)
}

// Coordinator polls a fetch function on a fixed interval and caches the
// last good value. Refreshes never overlap.
type Coordinator[T any] struct {
	name         string
	interval     time.Duration
	fetch        FetchFunc[T]
	log          logrus.FieldLogger
	onAuthFailed func(error)

	refreshMu sync.Mutex

	mu          sync.RWMutex
	data        T
	hasData     bool
	lastErr     error
	lastSuccess bool
	lastUpdated time.Time
	listeners   map[int]func()
	nextID      int
	cancel      context.CancelFunc
	done        chan struct{}

	refreshReq chan struct{}
}

// New builds a coordinator. It does not poll until Start.
func New[T any](fetch FetchFunc[T], opts Options) *Coordinator[T] {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator[T]{
		name:         opts.Name,
		interval:     interval,
		fetch:        fetch,
		log:          logger.WithField("coordinator", opts.Name),
		onAuthFailed: opts.OnAuthFailed,
		listeners:    make(map[int]func()),
		refreshReq:   make(chan struct{}, 1),
	}
}

func (c *Coordinator[T]) Name() string {
	return c.name
}

func (c *Coordinator[T]) Interval() time.Duration {
	return c.interval
}

// Data returns the last good value. ok is false until a fetch succeeds.
func (c *Coordinator[T]) Data() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data, c.hasData
}

func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

func (c *Coordinator[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator[T]) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}

// AddListener registers fn to run after every refresh, failed or not.
func (c *Coordinator[T]) AddListener(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// FirstRefresh runs the initial fetch during setup. Failures come back
// wrapping ErrNotReady or ErrAuthFailed.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	err := c.Refresh(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNotReady, err)
}

// Refresh fetches now and notifies listeners.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	data, err := c.fetch(ctx)
	now := time.Now()

	c.mu.Lock()
	c.lastUpdated = now
	if err == nil {
		if !c.lastSuccess && c.lastErr != nil {
			c.log.Info("fetching data recovered")
		}
		c.data = data
		c.hasData = true
		c.lastErr = nil
		c.lastSuccess = true
	} else {
		if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrUpdateFailed) {
			err = UpdateFailed(err)
		}
		if c.lastSuccess || c.lastErr == nil {
			c.log.WithError(err).Error("error fetching data")
		}
		c.lastErr = err
		c.lastSuccess = false
	}
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.record(err, now)

	if errors.Is(err, ErrAuthFailed) && c.halt() && c.onAuthFailed != nil {
		go c.onAuthFailed(err)
	}

	for _, fn := range listeners {
		fn()
	}
	return err
}

// Start begins polling until ctx is done, Stop is called or an auth
// failure halts it.
func (c *Coordinator[T]) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(loopCtx, done)
}

// Running reports whether the poll loop is active.
func (c *Coordinator[T]) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancel != nil
}

// RequestRefresh asks the poll loop for an immediate refresh. Requests
// made while one is pending collapse into it.
func (c *Coordinator[T]) RequestRefresh() {
	select {
	case c.refreshReq <- struct{}{}:
	default:
	}
}

// Stop ends polling and waits for the loop to exit.
func (c *Coordinator[T]) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// halt cancels the poll loop without waiting for it. It reports whether a
// loop was running.
func (c *Coordinator[T]) halt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	c.cancel = nil
	return true
}

func (c *Coordinator[T]) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.refreshReq:
		}
		if ctx.Err() != nil {
			return
		}
		_ = c.Refresh(ctx)
	}
}

func (c *Coordinator[T]) record(err error, now time.Time) {
	result := "success"
	switch {
	case err == nil:
		lastSuccessGauge.WithLabelValues(c.name).Set(float64(now.Unix()))
		updateSuccessGauge.WithLabelValues(c.name).Set(1)
	case errors.Is(err, ErrAuthFailed):
		result = "auth_failed"
		updateSuccessGauge.WithLabelValues(c.name).Set(0)
	default:
		result = "update_failed"
		updateSuccessGauge.WithLabelValues(c.name).Set(0)
	}
	refreshTotal.WithLabelValues(c.name, result).Inc()
}
