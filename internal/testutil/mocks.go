package testutil

import (
	"sync"
	"time"
)

// FakeConn stands in for a database connection in tests. It records the
// statements run against it and whether it was handed back.
type FakeConn struct {
	ID int

	mu         sync.Mutex
	statements []string
}

// NewFakeConns returns n connections with IDs 0..n-1.
func NewFakeConns(n int) []*FakeConn {
	conns := make([]*FakeConn, n)
	for i := range conns {
		conns[i] = &FakeConn{ID: i}
	}
	return conns
}

// Exec records a statement.
func (c *FakeConn) Exec(stmt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statements = append(c.statements, stmt)
}

// Statements returns a copy of the recorded statements.
func (c *FakeConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.statements))
	copy(out, c.statements)
	return out
}

// Event is one entry of a Recorder timeline.
type Event struct {
	Name string
	At   time.Time
}

// Recorder collects named events from concurrent goroutines in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record appends an event stamped with the current time.
func (r *Recorder) Record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, At: time.Now()})
}

// Events returns a copy of the timeline.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Find returns the first event with the given name.
func (r *Recorder) Find(name string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Name == name {
			return e, true
		}
	}
	return Event{}, false
}

// Names returns the event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}
