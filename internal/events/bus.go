// Package events implements the callback bus Actions and Services notify
// as they change state (spec.md §4.5.1, §6): EV_STARTED, EV_COMPLETE,
// EV_STATUS_CHANGED and EV_TRIGGER_DEP, fanned out to any number of
// subscribers. One Bus is created per Run call rather than shared as a
// process-wide singleton (spec.md §9), following the subscriber-channel
// pattern the orchestrator package uses for its own state-change
// notifications.
package events

import (
	"sync"
	"time"

	"github.com/cea-hpc/milkcheck/internal/action"
	"github.com/cea-hpc/milkcheck/internal/entity"
)

// Type identifies which of the five notifications (four lifecycle events
// plus ConfigChanged) an Event carries.
type Type int

const (
	Started Type = iota
	Complete
	StatusChanged
	TriggerDep
	ConfigChanged
)

func (t Type) String() string {
	switch t {
	case Started:
		return "EV_STARTED"
	case Complete:
		return "EV_COMPLETE"
	case StatusChanged:
		return "EV_STATUS_CHANGED"
	case TriggerDep:
		return "EV_TRIGGER_DEP"
	case ConfigChanged:
		return "EV_CONFIG_CHANGED"
	default:
		return "EV_UNKNOWN"
	}
}

// Event is one notification published on the Bus.
type Event struct {
	Type Type
	At   time.Time

	// Node is the entity the event is about, for Started/Complete/
	// StatusChanged.
	Node entity.Node

	// From/To are set only for TriggerDep, identifying the entity that
	// completed and the dependent it woke up.
	From, To entity.Node

	// Path is set only for ConfigChanged, naming the file that was reloaded.
	Path string
}

// Bus fans lifecycle events out to every current subscriber. A slow or
// absent subscriber never blocks the scheduler: each subscriber channel is
// buffered, and a publish that would block on a full channel drops the
// event for that subscriber rather than stalling execution.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new listener and returns a channel the caller
// should range over until the run completes. bufSize controls how many
// unconsumed events the subscriber can fall behind by before events start
// being dropped for it.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Close closes every subscriber channel, signalling end of run.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

func (b *Bus) publish(ev Event) {
	ev.At = time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// EmitStarted, EmitComplete, EmitStatusChanged and EmitTriggerDep implement
// action.EventBus (and are reused directly as service.Preparer's ctx.Bus),
// so one Bus instance serves both Action and Service notifications.
func (b *Bus) EmitStarted(a *action.Action) {
	b.publish(Event{Type: Started, Node: a})
}

func (b *Bus) EmitComplete(n entity.Node) {
	b.publish(Event{Type: Complete, Node: n})
}

func (b *Bus) EmitStatusChanged(n entity.Node) {
	b.publish(Event{Type: StatusChanged, Node: n})
}

func (b *Bus) EmitTriggerDep(from, to entity.Node) {
	b.publish(Event{Type: TriggerDep, From: from, To: to})
}

// EmitConfigChanged notifies subscribers that path was reloaded into a new
// Graph (internal/config.Watcher).
func (b *Bus) EmitConfigChanged(path string) {
	b.publish(Event{Type: ConfigChanged, Path: path})
}
