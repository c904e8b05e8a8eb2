// Package memory provides a mutex-guarded in-memory implementation of the
// drip and suppression repositories. It backs the test suites and lets the
// server run without a database during local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/drip-engine/internal/domain"
)

type data struct {
	campaigns   map[string]domain.Campaign
	steps       map[string]domain.Step
	enrollments map[string]domain.Enrollment
	prefs       map[string]domain.Preference
	sendLog     []domain.SendLogEntry
	contacts    map[string]domain.Contact
	executions  map[string]domain.WorkflowExecution
}

func newData() *data {
	return &data{
		campaigns:   make(map[string]domain.Campaign),
		steps:       make(map[string]domain.Step),
		enrollments: make(map[string]domain.Enrollment),
		prefs:       make(map[string]domain.Preference),
		contacts:    make(map[string]domain.Contact),
		executions:  make(map[string]domain.WorkflowExecution),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range d.steps {
		c.steps[k] = v
	}
	for k, v := range d.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range d.prefs {
		c.prefs[k] = v
	}
	c.sendLog = append(c.sendLog, d.sendLog...)
	for k, v := range d.contacts {
		c.contacts[k] = v
	}
	for k, v := range d.executions {
		c.executions[k] = v
	}
	return c
}

type state struct{ d *data }

// Store holds every table in maps behind one mutex. A transaction holds the
// mutex for its whole duration and restores a snapshot if it fails, which
// makes transactions serializable.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

// New returns an empty store.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: &state{d: newData()}}
}

// lock acquires the store mutex unless the caller is already inside a
// transaction that holds it. Use as: defer s.lock()().
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) runInTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.d.clone()
	tx := &Store{mu: s.mu, st: s.st, inTx: true}
	if err := fn(tx); err != nil {
		s.st.d = snap
		return err
	}
	return nil
}

// PutContact inserts or replaces a per-store contact record.
func (s *Store) PutContact(c domain.Contact) {
	defer s.lock()()
	c.Email = domain.NormalizeEmail(c.Email)
	s.st.d.contacts[c.ID] = c
}

// PutWorkflowExecution inserts or replaces a workflow execution.
func (s *Store) PutWorkflowExecution(w domain.WorkflowExecution) {
	defer s.lock()()
	w.CustomerEmail = domain.NormalizeEmail(w.CustomerEmail)
	s.st.d.executions[w.ID] = w
}

// WorkflowExecution returns a copy of one execution.
func (s *Store) WorkflowExecution(id string) (domain.WorkflowExecution, bool) {
	defer s.lock()()
	w, ok := s.st.d.executions[id]
	return w, ok
}

// Contacts returns every contact row for an address, ordered by ID.
func (s *Store) Contacts(email string) []domain.Contact {
	defer s.lock()()
	var out []domain.Contact
	for _, c := range s.st.d.contacts {
		if c.Email == email {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SendLog returns the send log entries for an address in insertion order.
func (s *Store) SendLog(email string) []domain.SendLogEntry {
	defer s.lock()()
	var out []domain.SendLogEntry
	for _, e := range s.st.d.sendLog {
		if e.Email == email {
			out = append(out, e)
		}
	}
	return out
}
