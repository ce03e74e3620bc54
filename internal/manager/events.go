package manager

import "github.com/rs/zerolog"

// Event represents a manager lifecycle event such as a load, a reload or an
// adapter fallback.
type Event struct {
	Name   string
	Model  SlotKind
	Fields map[string]any
}

// Event names.
const (
	EventLoadStart       = "load_start"
	EventLoadReady       = "load_ready"
	EventLoadFailed      = "load_failed"
	EventAdapterFallback = "adapter_fallback"
	EventReload          = "reload"
	EventSpawnStart      = "spawn_start"
	EventSpawnReady      = "spawn_ready"
	EventSpawnExit       = "spawn_exit"
	EventSpawnTimeout    = "spawn_timeout"
	EventSpawnStop       = "spawn_stop"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events as debug log lines.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	p.Log.Debug().Str("event", e.Name).Str("model", string(e.Model)).Fields(e.Fields).Msg("manager event")
}
