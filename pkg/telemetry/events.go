package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/rs/zerolog"
)

// EventPersister stores events outside the process, e.g. in SQLite.
type EventPersister interface {
	AppendEvent(ctx context.Context, event engine.Event) error
}

// EventSubscriber is a function that handles events.
type EventSubscriber func(event engine.Event)

// EventPredicate determines if an event should be delivered to a subscriber.
type EventPredicate func(event engine.Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventPredicate
}

// EventStore is the append-only provisioning event log. It keeps the newest
// events in a capped in-memory ring and fans every event out, in the
// background and in append order, to an optional JSON-lines file, an optional
// persister and subscribers.
//
// Sink failures never fail Append; they are logged at warn level.
type EventStore struct {
	mu       sync.RWMutex
	ring     []engine.Event
	start    int
	count    int
	capacity int
	closed   bool

	fileMu sync.Mutex
	file   *os.File
	enc    *json.Encoder

	persister   EventPersister
	subscribers []subscriberEntry
	queue       chan engine.Event
	wg          sync.WaitGroup

	logger zerolog.Logger
	now    func() time.Time
}

var (
	_ engine.EventSink    = (*EventStore)(nil)
	_ engine.EventQuerier = (*EventStore)(nil)
)

// EventStoreOption configures an EventStore.
type EventStoreOption func(*EventStore)

// WithPersister persists every event in the background.
func WithPersister(p EventPersister) EventStoreOption {
	return func(s *EventStore) {
		s.persister = p
	}
}

// WithSubscriber delivers matching events to fn in the background. A nil
// filter matches everything.
func WithSubscriber(fn EventSubscriber, filter EventPredicate) EventStoreOption {
	return func(s *EventStore) {
		if fn != nil {
			s.subscribers = append(s.subscribers, subscriberEntry{subscriber: fn, filter: filter})
		}
	}
}

// WithEventLogger sets the logger used for sink failures.
func WithEventLogger(logger zerolog.Logger) EventStoreOption {
	return func(s *EventStore) {
		s.logger = logger.With().Str("component", "events").Logger()
	}
}

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) EventStoreOption {
	return func(s *EventStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewEventStore creates an event store.
func NewEventStore(cfg EventsConfig, opts ...EventStoreOption) (*EventStore, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("event capacity must be positive, got: %d", cfg.Capacity)
	}

	s := &EventStore{
		ring:     make([]engine.Event, cfg.Capacity),
		capacity: cfg.Capacity,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open event file: %w", err)
		}
		s.file = file
		s.enc = json.NewEncoder(file)
	}

	if s.enc != nil || s.persister != nil || len(s.subscribers) > 0 {
		buffer := cfg.PersistBuffer
		if buffer <= 0 {
			buffer = 256
		}
		s.queue = make(chan engine.Event, buffer)
		s.wg.Add(1)
		go s.dispatch()
	}

	return s, nil
}

// Append records an event. ID, Timestamp and Level are filled when empty.
func (s *EventStore) Append(_ context.Context, event engine.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if event.Level == "" {
		event.Level = event.Kind.Level()
	}
	event.Payload = copyPayload(event.Payload)

	s.mu.Lock()
	idx := (s.start + s.count) % s.capacity
	s.ring[idx] = event
	if s.count < s.capacity {
		s.count++
	} else {
		s.start = (s.start + 1) % s.capacity
	}

	if s.queue != nil && !s.closed {
		select {
		case s.queue <- event:
		default:
			s.logger.Warn().
				Str("event_id", event.ID).
				Str("kind", string(event.Kind)).
				Msg("Event queue full, event not persisted")
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *EventStore) writeFile(event engine.Event) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.enc == nil {
		return
	}
	if err := s.enc.Encode(event); err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to write event file")
	}
}

func (s *EventStore) dispatch() {
	defer s.wg.Done()

	for event := range s.queue {
		s.writeFile(event)
		if s.persister != nil {
			if err := s.persister.AppendEvent(context.Background(), event); err != nil {
				s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to persist event")
			}
		}
		for _, entry := range s.subscribers {
			if entry.filter != nil && !entry.filter(event) {
				continue
			}
			s.deliver(entry.subscriber, event)
		}
	}
}

func (s *EventStore) deliver(fn EventSubscriber, event engine.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().Interface("panic", r).Str("event_id", event.ID).Msg("Event subscriber panicked")
		}
	}()
	fn(event)
}

// Events returns the retained events matching filter, newest first.
func (s *EventStore) Events(_ context.Context, filter engine.EventFilter) ([]engine.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kinds := make(map[engine.EventKind]bool, len(filter.Kinds))
	for _, k := range filter.Kinds {
		kinds[k] = true
	}

	var out []engine.Event
	for i := s.count - 1; i >= 0; i-- {
		event := s.ring[(s.start+i)%s.capacity]
		if len(kinds) > 0 && !kinds[event.Kind] {
			continue
		}
		if filter.PathPrefix != "" && !strings.HasPrefix(event.Path, filter.PathPrefix) {
			continue
		}
		event.Payload = copyPayload(event.Payload)
		out = append(out, event)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of retained events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Capacity returns the maximum number of retained events.
func (s *EventStore) Capacity() int {
	return s.capacity
}

// Reset drops every retained event. Persisted copies are not touched.
func (s *EventStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = make([]engine.Event, s.capacity)
	s.start = 0
	s.count = 0
}

// Shutdown stops background delivery after draining queued events, then
// closes the event file.
func (s *EventStore) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.queue != nil {
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("event store shutdown: %w", ctx.Err())
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.file != nil {
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close event file: %w", cerr)
		}
		s.file = nil
		s.enc = nil
	}
	return err
}

// FilterByKind matches events of the given kinds.
func FilterByKind(kinds ...engine.EventKind) EventPredicate {
	set := make(map[engine.EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return func(event engine.Event) bool {
		return set[event.Kind]
	}
}

// FilterByLevel matches events at minLevel or above (info, warning, error).
func FilterByLevel(minLevel string) EventPredicate {
	levels := map[string]int{
		"info":    0,
		"warning": 1,
		"error":   2,
	}
	threshold := levels[minLevel]
	return func(event engine.Event) bool {
		return levels[event.Level] >= threshold
	}
}

func copyPayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
