package interview

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	model "github.com/zhouzirui/ai-interviewer/backend/internal/model/interview"
)

type registryEntry struct {
	info   model.SessionInfo
	cancel context.CancelFunc
}

// Registry tracks live sessions so the process can report and stop them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]registryEntry
	closed   bool
}

// NewRegistry returns an empty registry and exports its size as the
// interview.sessions.active gauge.
func NewRegistry() *Registry {
	r := &Registry{sessions: make(map[string]registryEntry)}

	meter := otel.Meter(meterName)
	gauge, err := meter.Int64ObservableGauge("interview.sessions.active",
		metric.WithDescription("Interview sessions currently connected"))
	if err == nil {
		_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
			obs.ObserveInt64(gauge, int64(r.Len()))
			return nil
		}, gauge)
	}
	if err != nil {
		log.Printf("[interview] failed to register session gauge: %v", err)
	}
	return r
}

// Add registers a session. The returned context is cancelled by Remove or
// CloseAll. After CloseAll the context is returned already cancelled.
func (r *Registry) Add(parent context.Context, id, remoteAddr string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		cancel()
		return ctx
	}
	if old, ok := r.sessions[id]; ok {
		old.cancel()
	}
	r.sessions[id] = registryEntry{
		info: model.SessionInfo{
			ID:         id,
			RemoteAddr: remoteAddr,
			StartedAt:  time.Now().UTC(),
		},
		cancel: cancel,
	}
	return ctx
}

// Remove cancels and forgets a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.sessions[id]; ok {
		entry.cancel()
		delete(r.sessions, id)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the live sessions ordered by start time.
func (r *Registry) List() []model.SessionInfo {
	r.mu.RLock()
	infos := make([]model.SessionInfo, 0, len(r.sessions))
	for _, entry := range r.sessions {
		infos = append(infos, entry.info)
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// CloseAll cancels every live session and rejects later additions.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, entry := range r.sessions {
		entry.cancel()
		delete(r.sessions, id)
	}
}
