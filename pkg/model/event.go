package model

// EventID identifies an event within a store. Zero means unassigned.
type EventID uint64

// Event is one entry of the synthetic narrative built for a dump.
// TMs is an offset in milliseconds from the start of the narrative, not a
// wall clock time.
type Event struct {
	ID       EventID  `json:"id"`
	TMs      uint64   `json:"t_ms"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Details  string   `json:"details"`
	Source   string   `json:"source"`
}

// EventStore keeps events in insertion order and hands out ids
type EventStore struct {
	events []Event
	nextID EventID
}

// NewEventStore pushes every event in order
func NewEventStore(events ...Event) *EventStore {
	s := &EventStore{}
	for _, ev := range events {
		s.Push(ev)
	}
	return s
}

// Push appends ev, assigning the next id when ev.ID is zero
func (s *EventStore) Push(ev Event) EventID {
	if ev.ID == 0 {
		ev.ID = s.nextID
		if ev.ID < 1 {
			ev.ID = 1
		}
	}
	if ev.ID+1 > s.nextID {
		s.nextID = ev.ID + 1
	}
	s.events = append(s.events, ev)
	return ev.ID
}

// Len returns the number of events
func (s *EventStore) Len() int {
	return len(s.events)
}

// All returns the events in insertion order
func (s *EventStore) All() []Event {
	return s.events
}

// Get looks up an event by id
func (s *EventStore) Get(id EventID) (Event, bool) {
	for _, ev := range s.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// FirstID returns the id of the first event
func (s *EventStore) FirstID() (EventID, bool) {
	if len(s.events) == 0 {
		return 0, false
	}
	return s.events[0].ID, true
}

// Filter returns the events at or above min severity
func (s *EventStore) Filter(min Severity) []Event {
	var out []Event
	for _, ev := range s.events {
		if ev.Severity >= min {
			out = append(out, ev)
		}
	}
	return out
}
