package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a build progress event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// BuildID is the journal ID of the build.
	BuildID string `json:"build_id,omitempty"`

	// Layer is the target of the layer being built.
	Layer string `json:"layer,omitempty"`

	// Target is the feature target of the item the event is about.
	Target string `json:"target,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeBuildStarted    = "build.started"
	EventTypeBuildCompleted  = "build.completed"
	EventTypeBuildFailed     = "build.failed"
	EventTypePhaseCompleted  = "phase.completed"
	EventTypeItemBuilt       = "item.built"
	EventTypeItemFailed      = "item.failed"
	EventTypePolicyViolation = "policy.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher delivers build events to subscribers. Each subscriber
// sees events in publishing order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup

	// sendMu guards buffer sends against Shutdown closing it.
	sendMu sync.RWMutex
	closed bool
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}

	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	ep.buffer = make(chan Event, cfg.BufferSize)
	ep.wg.Add(1)
	go ep.processEvents()

	return ep, nil
}

// Publish publishes an event to all subscribers. In async mode it fails
// when the buffer is full instead of blocking the build.
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

	if ep.buffer == nil {
		ep.deliverEvent(event)
		return nil
	}

	ep.sendMu.RLock()
	defer ep.sendMu.RUnlock()
	if ep.closed {
		return fmt.Errorf("event publisher is shut down, dropped %s event", event.Type)
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s event", event.Type)
	}
}

// PublishBuildStarted publishes a build.started event.
func (ep *EventPublisher) PublishBuildStarted(buildID, layer string) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildStarted,
		BuildID: buildID,
		Layer:   layer,
		Message: fmt.Sprintf("Building %s", layer),
	})
}

// PublishBuildCompleted publishes a build.completed event.
func (ep *EventPublisher) PublishBuildCompleted(buildID, layer string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildCompleted,
		BuildID: buildID,
		Layer:   layer,
		Message: fmt.Sprintf("Built %s in %s", layer, duration.Round(time.Millisecond)),
		Data: map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// PublishBuildFailed publishes a build.failed event.
func (ep *EventPublisher) PublishBuildFailed(buildID, layer string, err error) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildFailed,
		BuildID: buildID,
		Layer:   layer,
		Message: err.Error(),
		Level:   EventLevelError,
	})
}

// PublishPhaseCompleted publishes a phase.completed event.
func (ep *EventPublisher) PublishPhaseCompleted(buildID, layer, phase string, items int) error {
	return ep.Publish(Event{
		Type:    EventTypePhaseCompleted,
		BuildID: buildID,
		Layer:   layer,
		Message: fmt.Sprintf("Phase %s built %d item(s)", phase, items),
		Data: map[string]interface{}{
			"phase": phase,
			"items": items,
		},
	})
}

// PublishItemBuilt publishes an item.built event.
func (ep *EventPublisher) PublishItemBuilt(buildID, layer, kind, target string) error {
	return ep.Publish(Event{
		Type:    EventTypeItemBuilt,
		BuildID: buildID,
		Layer:   layer,
		Target:  target,
		Message: fmt.Sprintf("Built %s", kind),
		Data: map[string]interface{}{
			"kind": kind,
		},
	})
}

// PublishItemFailed publishes an item.failed event.
func (ep *EventPublisher) PublishItemFailed(buildID, layer, kind, target string, err error) error {
	return ep.Publish(Event{
		Type:    EventTypeItemFailed,
		BuildID: buildID,
		Layer:   layer,
		Target:  target,
		Message: err.Error(),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"kind": kind,
		},
	})
}

// PublishPolicyViolation publishes a policy.violation event.
func (ep *EventPublisher) PublishPolicyViolation(layer, target, policyName, message string, blocking bool) error {
	level := EventLevelWarning
	if blocking {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Layer:   layer,
		Target:  target,
		Message: message,
		Level:   level,
		Data: map[string]interface{}{
			"policy": policyName,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter receives everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers buffered events until the buffer is closed.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for event := range ep.buffer {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
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

// Shutdown stops accepting events and waits until buffered events are
// delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.buffer == nil {
		return nil
	}

	ep.sendMu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.buffer)
	}
	ep.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
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

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByBuildID creates a filter that only allows events of one build.
func FilterByBuildID(buildID string) EventFilter {
	return func(event Event) bool {
		return event.BuildID == buildID
	}
}
