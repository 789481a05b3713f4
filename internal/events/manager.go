package events

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Manager publishes events to the bus and logs them.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying bus for subscribers.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Emit publishes typed event data and logs it.
func (m *Manager) Emit(module string, data EventData) {
	eventType := data.EventType()
	m.bus.Emit(eventType, module, data)

	event := m.log.Info()
	if eventType == ErrorOccurred || eventType == OptimizationFailed {
		event = m.log.Warn()
	}
	if payload, err := json.Marshal(data); err == nil {
		event = event.RawJSON("data", payload)
	}
	event.
		Str("event_type", string(eventType)).
		Str("module", module).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.Emit(module, &ErrorEventData{Error: err.Error(), Context: context})
}
