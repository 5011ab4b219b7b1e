package app

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"asamblea/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock only moves when told to
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testAssembly() domain.Assembly {
	return domain.Assembly{
		ID:             7,
		Title:          "Asamblea ordinaria 2025",
		Status:         domain.AssemblyInProgress,
		QuorumRequired: decimal.NewFromInt(50),
		QuorumReached:  decimal.RequireFromString("62.5"),
	}
}

func selfIdentity(document string) domain.Identity {
	return domain.Identity{
		Kind:        domain.IdentitySelf,
		Document:    document,
		Copropiedad: "CP-01",
	}
}

// recordingSubscriber collects every event it is sent
type recordingSubscriber struct {
	id     string
	events chan *domain.Event
}

func newRecordingSubscriber(id string) *recordingSubscriber {
	return &recordingSubscriber{id: id, events: make(chan *domain.Event, 256)}
}

func (r *recordingSubscriber) Send(message interface{}) error {
	if event, ok := message.(*domain.Event); ok {
		select {
		case r.events <- event:
		default:
		}
	}
	return nil
}

func (r *recordingSubscriber) ID() string   { return r.id }
func (r *recordingSubscriber) Close() error { return nil }

// waitFor returns the first event of the given type, or nil after timeout
func (r *recordingSubscriber) waitFor(eventType domain.EventType, timeout time.Duration) *domain.Event {
	deadline := time.After(timeout)
	for {
		select {
		case event := <-r.events:
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			return nil
		}
	}
}
