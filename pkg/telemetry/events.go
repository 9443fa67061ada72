package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a run lifecycle event.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Path      string                 `json:"path,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunCompleted  = "run.completed"
	EventTypeFileProcessed = "file.processed"
	EventTypeFileFailed    = "file.failed"
	EventTypeWatchTrigger  = "watch.triggered"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter selects events.
type EventFilter func(event Event) bool

// EventPublisher buffers events and delivers them to subscribers in publish
// order from a single goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	done        chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher. A disabled publisher accepts and
// drops every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go ep.processEvents()
	return ep, nil
}

// Publish queues an event. It fails when the buffer is full or the publisher
// has been shut down.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	select {
	case <-ep.closed:
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, environment string, files int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("Run started with %d entry files", files),
		Data:    map[string]interface{}{"environment": environment, "files": files},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	level := EventLevelInfo
	if status != "succeeded" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Level:   level,
		Message: fmt.Sprintf("Run completed with status %s", status),
		Data:    map[string]interface{}{"status": status, "duration_ms": duration.Milliseconds()},
	})
}

// PublishFileProcessed publishes a file processed event.
func (ep *EventPublisher) PublishFileProcessed(runID, path, output string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeFileProcessed,
		RunID:   runID,
		Path:    path,
		Message: fmt.Sprintf("Wrote %s", output),
		Data:    map[string]interface{}{"output": output, "duration_ms": duration.Milliseconds()},
	})
}

// PublishFileFailed publishes a file failed event.
func (ep *EventPublisher) PublishFileFailed(runID, path, kind, message string) error {
	return ep.Publish(Event{
		Type:    EventTypeFileFailed,
		RunID:   runID,
		Path:    path,
		Level:   EventLevelError,
		Message: message,
		Data:    map[string]interface{}{"kind": kind},
	})
}

// Subscribe registers a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

func (ep *EventPublisher) processEvents() {
	defer close(ep.done)
	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.closed:
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits until queued events have been
// delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}
	ep.closeOnce.Do(func() { close(ep.closed) })

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID accepts events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
