// Package session implements the dictation session state machine.
// It is pure in-memory state: no I/O, no goroutines.
package session

import (
	"github.com/eliteGoblin/dictd/internal/domain"
)

// Transition describes one accepted state change.
type Transition struct {
	From  domain.State
	To    domain.State
	Event domain.EventType
}

// Observer is notified after every accepted transition.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t Transition)

// OnTransition calls f(t).
func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// transitions is the full table; missing entries are rejections.
var transitions = map[domain.State]map[domain.EventType]domain.State{
	domain.StateIdle: {
		domain.EventStart: domain.StateRecording,
		domain.EventError: domain.StateIdle,
	},
	domain.StateRecording: {
		domain.EventStop:  domain.StateTranscribing,
		domain.EventError: domain.StateIdle,
	},
	domain.StateTranscribing: {
		domain.EventTranscriptionComplete: domain.StateIdle,
		domain.EventError:                 domain.StateIdle,
	},
}

type subscription struct {
	id       int
	observer Observer
}

// Machine holds the session state and context.
// Machine is not safe for concurrent use; the daemon serializes all access.
type Machine struct {
	state   domain.State
	context domain.Context

	observers []subscription
	nextID    int
}

// NewMachine returns a machine in the idle state with empty context.
func NewMachine() *Machine {
	return &Machine{state: domain.StateIdle}
}

// State returns the current state.
func (m *Machine) State() domain.State {
	return m.state
}

// Snapshot returns the current state and a copy of the context.
func (m *Machine) Snapshot() (domain.State, domain.Context) {
	return m.state, m.context.Clone()
}

// Can reports whether ev would be accepted in the current state.
func (m *Machine) Can(ev domain.EventType) bool {
	_, ok := transitions[m.state][ev]
	return ok
}

// Apply evaluates ev against the transition table. On rejection it returns a
// *domain.InvalidTransitionError and leaves state and context untouched.
func (m *Machine) Apply(ev domain.Event) (domain.State, error) {
	next, ok := transitions[m.state][ev.Type]
	if !ok {
		return m.state, &domain.InvalidTransitionError{State: m.state, Event: ev.Type}
	}

	switch ev.Type {
	case domain.EventStart:
		m.context.LastError = nil
	case domain.EventTranscriptionComplete:
		text := ev.Text
		m.context.LastTranscription = &text
		m.context.LastError = nil
	case domain.EventError:
		msg := ev.Message
		m.context.LastError = &msg
	}

	prev := m.state
	m.state = next
	m.notify(Transition{From: prev, To: next, Event: ev.Type})
	return next, nil
}

// Start applies the start event.
func (m *Machine) Start() error {
	_, err := m.Apply(domain.Event{Type: domain.EventStart})
	return err
}

// Stop applies the stop event.
func (m *Machine) Stop() error {
	_, err := m.Apply(domain.Event{Type: domain.EventStop})
	return err
}

// TranscriptionComplete applies transcription_complete with the resulting text.
func (m *Machine) TranscriptionComplete(text string) error {
	_, err := m.Apply(domain.Event{Type: domain.EventTranscriptionComplete, Text: text})
	return err
}

// Fail applies the error event. It is accepted in every state.
func (m *Machine) Fail(message string) {
	_, _ = m.Apply(domain.Event{Type: domain.EventError, Message: message})
}

// SetWindow records the focused-window snapshot. It is not a transition.
func (m *Machine) SetWindow(w *domain.WindowContext) {
	if w == nil {
		m.context.CurrentWindow = nil
		return
	}
	copied := *w
	m.context.CurrentWindow = &copied
}

// Reset forces the machine back to idle with cleared context.
// Observers are kept and not notified.
func (m *Machine) Reset() {
	m.state = domain.StateIdle
	m.context = domain.Context{}
}

// Subscribe registers o and returns a function that removes it.
// The returned function is safe to call more than once.
func (m *Machine) Subscribe(o Observer) (unsubscribe func()) {
	m.nextID++
	id := m.nextID
	m.observers = append(m.observers, subscription{id: id, observer: o})

	return func() {
		for i, s := range m.observers {
			if s.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

func (m *Machine) notify(t Transition) {
	// Copy so an observer unsubscribing itself does not skip its neighbour.
	current := make([]subscription, len(m.observers))
	copy(current, m.observers)
	for _, s := range current {
		s.observer.OnTransition(t)
	}
}
