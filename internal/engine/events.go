package engine

import (
	"sync"
	"time"
)

type EventType string

const (
	EventRunStart        EventType = "run_start"
	EventPhaseStart      EventType = "phase_start"
	EventWorkerOutput    EventType = "worker_output"
	EventAggregateResult EventType = "aggregate_result"
	EventRoundBoundary   EventType = "round_boundary"
	EventSynthesis       EventType = "synthesis"
	EventError           EventType = "error"
	EventRunComplete     EventType = "run_complete"
)

// Event is one typed progress record of a run. Seq is strictly increasing
// per run; a connected subscriber never sees events reordered or dropped.
type Event struct {
	RunID     string         `json:"run_id"`
	Seq       uint64         `json:"seq"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// EventSink receives every event of a run synchronously, in order. Sinks
// bridge events out of the engine (bus publication, notifications); they
// must not block.
type EventSink func(Event)

// subscriberBacklog bounds each subscriber's buffered channel. A subscriber
// that falls this far behind is disconnected rather than allowed to stall
// or skip events.
const subscriberBacklog = 64

// Emitter is the single-producer, multi-consumer event stream of one run.
// One goroutine emits; any number of subscribers consume from their
// subscription point forward.
type Emitter struct {
	runID string
	sinks []EventSink

	mu      sync.Mutex
	seq     uint64
	nextID  int
	subs    map[int]chan Event
	closed  bool
}

func NewEmitter(runID string, sinks ...EventSink) *Emitter {
	return &Emitter{
		runID: runID,
		sinks: sinks,
		subs:  make(map[int]chan Event),
	}
}

// Emit assigns the next sequence number and delivers the event to every
// sink and subscriber. Emitting after Close is a no-op.
func (e *Emitter) Emit(typ EventType, payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.seq++
	ev := Event{
		RunID:     e.runID,
		Seq:       e.seq,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	for _, sink := range e.sinks {
		sink(ev)
	}
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber fell too far behind; disconnect it instead of
			// dropping or reordering its events.
			close(ch)
			delete(e.subs, id)
		}
	}
}

// Subscribe attaches a consumer from this point forward. The returned
// cancel detaches it; the channel closes on cancel, overflow, or emitter
// close.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, subscriberBacklog)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
	return ch, cancel
}

// Close ends the stream: all subscriber channels close and later Emits are
// dropped. Called exactly once, after the terminal event.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}
