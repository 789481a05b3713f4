package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/factorfit/internal/events"
	"github.com/aristath/factorfit/internal/utils"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	eventBufferSize   = 100
	eventWriteTimeout = 5 * time.Second
)

// EventsStreamHandler streams bus events to websocket clients.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws. The optional "types" query parameter
// is a comma-separated list of event types to receive.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventTypes := events.AllEventTypes
	if filter := utils.ParseCSV(r.URL.Query().Get("types")); len(filter) > 0 {
		eventTypes = make([]events.EventType, len(filter))
		for i, t := range filter {
			eventTypes[i] = events.EventType(t)
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket connection")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// the client only listens; CloseRead handles control frames and cancels
	// ctx when the peer goes away
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan *events.Event, eventBufferSize)
	handler := func(event *events.Event) {
		// non-blocking send, drop if the client is slow
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	for _, eventType := range eventTypes {
		unsubscribe := h.eventBus.Subscribe(eventType, handler)
		defer unsubscribe()
	}

	h.log.Info().Int("types", len(eventTypes)).Msg("Client connected to event stream")

	if err := h.write(ctx, conn, map[string]interface{}{
		"type":      "connected",
		"timestamp": time.Now().Format(time.RFC3339),
	}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-eventChan:
			if err := h.write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Failed to write event, closing stream")
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode event")
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
