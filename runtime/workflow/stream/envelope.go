package stream

// TimestampLayout is the wire timestamp format: ISO-8601 UTC with
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the common JSON wire shape for run events. Transports that
// publish JSON wrap each event in an envelope so consumers can dispatch on
// the type without decoding the payload.
type Envelope struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEnvelope wraps ev in its wire envelope.
func NewEnvelope(ev Event) Envelope {
	return Envelope{
		Type:      ev.Type(),
		Timestamp: ev.Timestamp().UTC().Format(TimestampLayout),
		Payload:   ev.Payload(),
	}
}
