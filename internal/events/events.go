// Package events carries sync lifecycle notifications to observability sinks.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// Type names a lifecycle event
type Type string

const (
	JobCreated       Type = "job:created"
	JobStarted       Type = "job:started"
	JobProgress      Type = "job:progress"
	JobCompleted     Type = "job:completed"
	JobFailed        Type = "job:failed"
	JobCancelled     Type = "job:cancelled"
	ConflictDetected Type = "conflict:detected"
)

// Event is one lifecycle notification. Only the fields relevant to Type are set.
type Event struct {
	Type       Type                 `json:"type"`
	JobID      string               `json:"job_id"`
	Job        *models.SyncJob      `json:"job,omitempty"`
	Progress   *models.SyncProgress `json:"progress,omitempty"`
	Result     *models.SyncResult   `json:"result,omitempty"`
	Error      *apperrors.SyncError `json:"error,omitempty"`
	Conflict   *models.SyncConflict `json:"conflict,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// Listener receives events
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) {
	f(e)
}

// Bus dispatches events synchronously to its listeners in subscription order
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns a function that removes it
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.listeners, id)
		for i, existing := range b.order {
			if existing == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish stamps the event and delivers it. A panicking listener is logged
// and does not stop delivery to the rest.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		deliver(l, e)
	}
}

func deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event":  e.Type,
				"job_id": e.JobID,
				"panic":  r,
			}).Error("Event listener panicked")
		}
	}()
	l.HandleEvent(e)
}
