package observability

import "time"

// EventEnvelope is the wrapper every connection-lifecycle event is published
// in. Consumers route on EventType and EventName; Payload is event-specific.
type EventEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	EventName     string `json:"event_name"`
	Service       string `json:"service"`
	OccurredAt    string `json:"occurred_at"`
	Payload       any    `json:"payload"`
}

// NewEnvelope stamps an envelope with the schema version and current time.
func NewEnvelope(eventType, eventName string, payload any) EventEnvelope {
	return EventEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		EventName:     eventName,
		Service:       "marketplace-chat-service",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Payload:       payload,
	}
}

// TraceHeaders builds the AMQP headers that let consumers correlate an event
// with the request and trace it originated from. Empty values are omitted.
func TraceHeaders(requestID, traceID string) map[string]string {
	headers := make(map[string]string, 2)
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
