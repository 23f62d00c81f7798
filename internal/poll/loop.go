// Package poll keeps independently refreshed remote reads in cache lines
// owned by a single goroutine.
package poll

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"clearClient/internal/metrics"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("poll loop stopped")

type line struct {
	key      string
	endpoint string
	interval time.Duration
	retry    time.Duration
	fetch    func(ctx context.Context) (any, error)

	refs     int
	gen      uint64
	released bool
	cancel   context.CancelFunc
	timer    *time.Timer

	status    Status
	value     any
	hasValue  bool
	err       error
	updatedAt time.Time
	fetching  bool
}

// Loop owns every cache line. All line state is read and written on the loop
// goroutine; fetches run elsewhere and post their results back.
type Loop struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	inbox chan func()
	done  chan struct{}

	// loop-confined
	ctx          context.Context
	lines        map[string]*line
	listeners    []func()
	notifyQueued bool
}

// NewLoop creates a loop; call Run to start it.
func NewLoop(logger *zap.Logger, m *metrics.Metrics) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger:  logger,
		metrics: m,
		inbox:   make(chan func(), 64),
		done:    make(chan struct{}),
		lines:   make(map[string]*line),
	}
}

// Run processes posted work until ctx is done, then releases every line.
func (l *Loop) Run(ctx context.Context) error {
	l.ctx = ctx
	defer close(l.done)
	for {
		select {
		case fn := <-l.inbox:
			fn()
		case <-ctx.Done():
			for _, ln := range l.lines {
				l.dropLine(ln)
			}
			return ctx.Err()
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) post(fn func()) bool {
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it. It must not be called from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case l.inbox <- func() { fn(); close(finished) }:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnChange registers fn to run on the loop after line state changes.
// Register before Run or from the loop.
func (l *Loop) OnChange(fn func()) {
	l.listeners = append(l.listeners, fn)
}

// ActiveLines returns the number of subscribed lines. Loop-confined.
func (l *Loop) ActiveLines() int {
	return len(l.lines)
}

// markDirty coalesces listener notification into one pass per burst of changes.
func (l *Loop) markDirty() {
	if l.notifyQueued {
		return
	}
	l.notifyQueued = true
	go l.post(func() {
		l.notifyQueued = false
		for _, fn := range l.listeners {
			fn()
		}
	})
}

func (l *Loop) acquire(key, endpoint string, interval, retry time.Duration, fetch func(ctx context.Context) (any, error)) *line {
	ln, ok := l.lines[key]
	if !ok {
		ln = &line{key: key, endpoint: endpoint, interval: interval, retry: retry, fetch: fetch, status: StatusLoading}
		l.lines[key] = ln
		l.metrics.SetActiveLines(len(l.lines))
		l.startFetch(ln, false)
	}
	ln.refs++
	return ln
}

func (l *Loop) releaseLine(ln *line) {
	ln.refs--
	if ln.refs > 0 {
		return
	}
	l.dropLine(ln)
	delete(l.lines, ln.key)
	l.metrics.SetActiveLines(len(l.lines))
}

func (l *Loop) dropLine(ln *line) {
	ln.released = true
	ln.gen++
	if ln.cancel != nil {
		ln.cancel()
		ln.cancel = nil
	}
	if ln.timer != nil {
		ln.timer.Stop()
		ln.timer = nil
	}
}

// startFetch issues a read for the line. A forced fetch supersedes one in flight.
func (l *Loop) startFetch(ln *line, force bool) {
	if ln.released || l.ctx == nil {
		return
	}
	if ln.fetching && !force {
		return
	}
	if ln.cancel != nil {
		ln.cancel()
	}
	if ln.timer != nil {
		ln.timer.Stop()
		ln.timer = nil
	}

	ln.gen++
	gen := ln.gen
	ctx, cancel := context.WithCancel(l.ctx)
	ln.cancel = cancel
	ln.fetching = true

	fetch := ln.fetch
	endpoint := ln.endpoint
	go func() {
		start := time.Now()
		value, err := fetch(ctx)
		l.metrics.RecordRead(endpoint, err, time.Since(start))
		l.post(func() { l.deliver(ln, gen, value, err) })
	}()
}

func (l *Loop) deliver(ln *line, gen uint64, value any, err error) {
	if ln.released || gen != ln.gen {
		l.metrics.RecordStale(ln.endpoint)
		l.logger.Debug("discard stale read", zap.String("key", ln.key))
		return
	}

	ln.fetching = false
	if ln.cancel != nil {
		ln.cancel()
		ln.cancel = nil
	}
	if err != nil {
		ln.status = StatusErrored
		ln.err = err
		l.logger.Warn("poll read failed", zap.String("key", ln.key), zap.Error(err))
	} else {
		ln.status = StatusReady
		ln.value = value
		ln.hasValue = true
		ln.err = nil
		ln.updatedAt = time.Now()
	}

	if next := ln.nextRead(err); next > 0 {
		ln.timer = time.AfterFunc(next, func() {
			l.post(func() { l.startFetch(ln, false) })
		})
	}
	l.markDirty()
}

// nextRead is the delay before the line is read again. On-demand lines are
// only re-read after a failure, every retry period until one succeeds.
func (ln *line) nextRead(err error) time.Duration {
	if ln.interval > 0 {
		return ln.interval
	}
	if err != nil {
		return ln.retry
	}
	return 0
}
