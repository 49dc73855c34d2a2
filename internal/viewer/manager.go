// Package viewer hosts tile renderers for remote clients. Each session owns
// one Renderer; every renderer call is made on the scheduler's foreground
// executor, which is the only goroutine that touches viewport and tile state.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bigview/internal/decoder"
	"bigview/internal/image_list"
	"bigview/internal/image_renderer"
	"bigview/internal/scheduler"
)

var (
	ErrSessionNotFound = errors.New("view session not found")
	ErrSessionClosed   = errors.New("view session closed")
)

// Loader opens the pixel source of an asset. It runs on the worker pool.
type Loader func(path string) (image_renderer.Source, error)

// NativeLoader decodes the whole asset and serves levels from memory. Peak
// memory is one full decode, so it only suits assets of bounded size.
func NativeLoader(dec decoder.Decoder) Loader {
	return func(path string) (image_renderer.Source, error) {
		img, err := dec.Decode(path)
		if err != nil {
			return nil, err
		}
		return image_renderer.NewBitmapSource(img), nil
	}
}

// VipsLoader reads regions from the file on demand.
func VipsLoader() Loader {
	return func(path string) (image_renderer.Source, error) {
		return image_renderer.OpenVipsSource(path)
	}
}

// NewLoader picks the loader matching a decoder kind.
func NewLoader(kind string, dec decoder.Decoder) Loader {
	if kind == "native" {
		return NativeLoader(dec)
	}
	return VipsLoader()
}

type Manager struct {
	sched  *scheduler.Scheduler
	load   Loader
	opts   image_renderer.Options
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(sched *scheduler.Scheduler, load Loader, opts image_renderer.Options, logger *zap.Logger) *Manager {
	return &Manager{
		sched:    sched,
		load:     load,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open loads asset on the worker pool, then lays out a renderer for viewport
// on the foreground executor.
func (m *Manager) Open(ctx context.Context, asset image_list.Asset, viewport image.Point) (*Session, error) {
	if viewport.X <= 0 || viewport.Y <= 0 {
		return nil, fmt.Errorf("invalid viewport %v", viewport)
	}

	id := uuid.New().String()
	log := m.logger.With(zap.String("view_id", id), zap.String("key", asset.Key))

	job := scheduler.Submit(m.sched, "open_view", func(ctx context.Context) (image_renderer.Source, error) {
		return m.load(asset.SourcePath)
	})

	var (
		session *Session
		openErr error
	)
	delivered := scheduler.Deliver(job, func(j *scheduler.Job[image_renderer.Source]) {
		src, ok := j.Result()
		if !ok {
			openErr = j.Err()
			return
		}
		r := image_renderer.New(src, m.opts, log)
		if err := r.Layout(viewport); err != nil {
			openErr = err
			return
		}
		session = &Session{
			ID:      id,
			Asset:   asset,
			Created: time.Now(),
			m:       m,
			r:       r,
		}
	})

	if _, err := delivered.Wait(ctx); err != nil {
		job.Cancel()
		return nil, err
	}
	if openErr != nil {
		return nil, fmt.Errorf("failed to open %s: %w", asset.Name, openErr)
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	log.Info("View opened",
		zap.Int("viewport_w", viewport.X),
		zap.Int("viewport_h", viewport.Y))
	return session, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close ends the session with the given id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.close()
	m.logger.Info("View closed", zap.String("view_id", id))
	return nil
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
