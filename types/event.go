package types

// EventKind discriminates the two triggers of the orchestrator.
type EventKind int

const (
	// EventKindStream is a batch of records delivered by the stream consumer.
	EventKindStream EventKind = iota + 1

	// EventKindScheduled is a periodic tick carrying no payload.
	EventKindScheduled
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventKindStream:
		return "stream"
	case EventKindScheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// Record is one opaque stream record. Its data decodes to {"id": "..."}.
type Record struct {
	Data []byte
}

// Event is the single input type of the orchestrator entry point.
type Event struct {
	Kind    EventKind
	Records []Record
}

// StreamEvent builds a stream delivery event.
func StreamEvent(records []Record) Event {
	return Event{Kind: EventKindStream, Records: records}
}

// ScheduledEvent builds a scheduled tick event.
func ScheduledEvent() Event {
	return Event{Kind: EventKindScheduled}
}

// BatchReport summarizes the processing of one stream delivery.
type BatchReport struct {
	Received  int
	Malformed int
	Pending   int
	Succeeded int
	Failed    int
	Slow      int
	Action    Adjustment
}

// Unhealthy reports whether slow plus failed tasks exceed half of the executed tasks.
func (r BatchReport) Unhealthy() bool {
	if r.Pending == 0 {
		return false
	}

	return float64(r.Slow+r.Failed)/float64(r.Pending) > 0.5
}

// Healthy reports whether every executed task succeeded within the latency threshold.
func (r BatchReport) Healthy() bool {
	return r.Pending > 0 && r.Slow == 0 && r.Failed == 0
}
