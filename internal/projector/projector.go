// Package projector narrows the shared status stream down to one tracked
// entity and folds it into a small derived state.
package projector

import (
	"sync"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

// Source is the part of channel.Manager a Projector depends on.
type Source interface {
	Attach(l channel.Listener, replay bool) func()
}

// State is the derived view of one entity. LastError holds the message of
// the latest error-phase event, if any.
type State struct {
	EntityID  string         `json:"entityId"`
	Active    bool           `json:"active"`
	Percent   int            `json:"percent"`
	LastError *string        `json:"lastError"`
	Events    []status.Event `json:"events"`
}

// Option customizes a Projector.
type Option func(*Projector)

// WithReplay seeds the projector from the source's buffered history.
func WithReplay() Option {
	return func(p *Projector) { p.replay = true }
}

// WithOnChange registers fn to receive the derived state after every event
// for the tracked entity and after Reset. fn runs on the source's dispatch
// path and must not block.
func WithOnChange(fn func(State)) Option {
	return func(p *Projector) { p.onChange = fn }
}

// Projector tracks one entity. Later rule matches always win; it does not
// check that phases arrive in a legal order.
type Projector struct {
	entityID string
	replay   bool
	onChange func(State)
	detach   func()

	mu        sync.Mutex
	events    []status.Event
	active    bool
	percent   int
	lastError *string
}

// New attaches a Projector for entityID to src.
func New(src Source, entityID string, opts ...Option) *Projector {
	p := &Projector{entityID: entityID}
	for _, opt := range opts {
		opt(p)
	}
	p.detach = src.Attach(channel.ListenerFuncs{StatusUpdate: p.apply}, p.replay)
	return p
}

// EntityID returns the tracked entity.
func (p *Projector) EntityID() string {
	return p.entityID
}

func (p *Projector) apply(evt status.Event) {
	if evt.EntityID != p.entityID {
		return
	}
	p.mu.Lock()
	p.events = append(p.events, evt)
	if evt.Phase == status.PhasePublishing && evt.Status == status.StatusStarted {
		p.active = true
		p.lastError = nil
	}
	if pct, ok := evt.Percent(); ok {
		p.percent = pct
	}
	if evt.Phase.Terminal() {
		p.active = false
		if evt.Phase == status.PhaseError {
			msg := evt.Message
			p.lastError = &msg
		}
	}
	if p.onChange == nil {
		p.mu.Unlock()
		return
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.onChange(snap)
}

// Snapshot returns a copy of the derived state.
func (p *Projector) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Projector) snapshotLocked() State {
	s := State{
		EntityID: p.entityID,
		Active:   p.active,
		Percent:  p.percent,
		Events:   append([]status.Event(nil), p.events...),
	}
	if p.lastError != nil {
		msg := *p.lastError
		s.LastError = &msg
	}
	return s
}

// Reset clears the local events and derived fields. The source connection
// and its history are untouched.
func (p *Projector) Reset() {
	p.mu.Lock()
	p.events = nil
	p.active = false
	p.percent = 0
	p.lastError = nil
	if p.onChange == nil {
		p.mu.Unlock()
		return
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.onChange(snap)
}

// Close detaches the projector from its source.
func (p *Projector) Close() {
	if p.detach != nil {
		p.detach()
	}
}

// Fold applies the projection rules to events without subscribing to
// anything. It is the one-shot form of a replaying Projector.
func Fold(entityID string, events []status.Event) State {
	p := &Projector{entityID: entityID}
	for _, evt := range events {
		p.apply(evt)
	}
	return p.Snapshot()
}
