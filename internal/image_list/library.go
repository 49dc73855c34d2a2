package image_list

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"bigview/internal/scheduler"
)

type EventKind int

const (
	// EventLoading reports the start (Loading true) or end of a refresh.
	EventLoading EventKind = iota
	// EventUpdated reports a new asset set of Count entries.
	EventUpdated
)

type Event struct {
	Kind    EventKind
	Loading bool
	Count   int
	Err     error
}

// Library owns the asset list. Scans run on the worker pool; subscribers are
// called on the foreground executor.
type Library struct {
	scanner *Scanner
	sched   *scheduler.Scheduler
	logger  *zap.Logger

	loading atomic.Bool

	mu          sync.Mutex
	subscribers []func(Event)
}

func NewLibrary(scanner *Scanner, sched *scheduler.Scheduler, logger *zap.Logger) *Library {
	return &Library{
		scanner: scanner,
		sched:   sched,
		logger:  logger,
	}
}

// Subscribe registers fn for every later event.
func (l *Library) Subscribe(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

func (l *Library) Assets() []Asset {
	return l.scanner.Assets()
}

func (l *Library) AssetByKey(key string) (Asset, bool) {
	return l.scanner.AssetByKey(key)
}

func (l *Library) Loading() bool {
	return l.loading.Load()
}

// Refresh starts a rescan. It returns false without doing anything when a
// refresh is already in flight.
func (l *Library) Refresh() bool {
	if !l.loading.CompareAndSwap(false, true) {
		l.logger.Debug("Refresh already in progress")
		return false
	}

	fg := l.sched.Foreground()
	if !fg.TryExecute(func() { l.publish(Event{Kind: EventLoading, Loading: true}) }) {
		l.loading.Store(false)
		return false
	}

	job := scheduler.Submit(l.sched, "scan", func(ctx context.Context) ([]Asset, error) {
		return l.scanner.Scan()
	})
	scheduler.Deliver(job, func(j *scheduler.Job[[]Asset]) {
		l.loading.Store(false)

		assets, ok := j.Result()
		if !ok {
			l.logger.Error("Failed to scan assets", zap.Error(j.Err()))
			l.publish(Event{Kind: EventLoading, Loading: false, Err: j.Err()})
			return
		}
		l.logger.Info("Asset library updated", zap.Int("count", len(assets)))
		l.publish(Event{Kind: EventLoading, Loading: false})
		l.publish(Event{Kind: EventUpdated, Count: len(assets)})
	})
	return true
}

func (l *Library) publish(ev Event) {
	l.mu.Lock()
	subs := append([]func(Event){}, l.subscribers...)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
