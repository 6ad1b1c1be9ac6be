package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/phuslu/log"

	"github.com/ternarybob/tenderwatch/internal/interfaces"
)

// jsonEventTypes are the event types mirrored to stdout as NDJSON when
// --json-events is set. One object per line; machine consumers parse these,
// humans read the regular log.
var jsonEventTypes = []interfaces.EventType{
	interfaces.EventStatus,
	interfaces.EventProgress,
	interfaces.EventDepartmentsLoaded,
	interfaces.EventError,
	interfaces.EventCompleted,
}

// attachJSONEvents subscribes an NDJSON emitter to the event bus
func attachJSONEvents(bus interfaces.EventService, jobID string) {
	emitter := log.Logger{
		Level:      log.InfoLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Writer: &log.IOWriter{
			Writer: os.Stdout,
		},
	}

	for _, eventType := range jsonEventTypes {
		et := eventType
		_ = bus.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			payload, err := json.Marshal(event.Payload)
			if err != nil {
				payload = []byte("null")
			}
			emitter.Info().
				Str("event", string(et)).
				Str("job_id", jobID).
				Str("portal", event.Portal).
				RawJSON("payload", payload).
				Msg("")
			return nil
		})
	}
}
