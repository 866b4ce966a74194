package event

import (
	"sync"
	"time"
)

// Envelope wraps every recorded event with a monotonic sequence. The sequence
// is assigned under a single lock, so downstream consumers (persistence,
// stream publisher) see a gap-free total order.
type Envelope struct {
	Sequence   int64     `json:"sequence"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Event     `json:"payload"`
}

// Recorder accepts domain events from the settlement path. Implementations
// must not block: settlement latency must never depend on downstream sinks.
type Recorder interface {
	Record(evt Event)
}

// NopRecorder discards everything. Useful in tests.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}

// Log stamps envelopes and fans them out to a buffered channel. If the
// channel is full the event is dropped and counted; the settlement path is
// never blocked on a slow consumer.
type Log struct {
	mu       sync.Mutex
	sequence int64
	out      chan<- Envelope
	dropped  func()
	now      func() time.Time
}

// NewLog creates a recorder that forwards envelopes to out. onDrop may be nil.
func NewLog(startSequence int64, out chan<- Envelope, onDrop func()) *Log {
	return &Log{
		sequence: startSequence,
		out:      out,
		dropped:  onDrop,
		now:      time.Now,
	}
}

func (l *Log) Record(evt Event) {
	l.mu.Lock()
	l.sequence++
	env := Envelope{
		Sequence:   l.sequence,
		Type:       evt.EventType(),
		OccurredAt: l.now().UTC(),
		Payload:    evt,
	}
	l.mu.Unlock()

	select {
	case l.out <- env:
	default:
		if l.dropped != nil {
			l.dropped()
		}
	}
}
