package observability

// EventEnvelope wraps events published to the message broker.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders assembles correlation headers for broker publishes.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// Routing keys for broker events.
const (
	RoutingKeyMessages = "chat_events.messages"
	RoutingKeyPresence = "chat_events.presence"
	RoutingKeyAudit    = "chat_events.audit"
	RoutingKeyWS       = "ws_events.rooms"
)
