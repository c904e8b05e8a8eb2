package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/service/suppression"
)

var _ suppression.Repository = (*Store)(nil)

func (s *Store) LookupSignals(_ context.Context, email string) (domain.SuppressionSignals, error) {
	defer s.lock()()
	var sig domain.SuppressionSignals
	if p, ok := s.st.d.prefs[email]; ok {
		sig.Preference = &p
	}
	for _, e := range s.st.d.sendLog {
		if e.Email != email {
			continue
		}
		switch e.Status {
		case domain.SendLogBounced:
			sig.HasBounce = true
		case domain.SendLogComplained:
			sig.HasComplaint = true
		}
	}
	ids := make([]string, 0)
	for id, c := range s.st.d.contacts {
		if c.Email == email {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		sig.ContactStatuses = append(sig.ContactStatuses, s.st.d.contacts[id].Status)
	}
	return sig, nil
}

func (s *Store) GetPreference(_ context.Context, email string) (*domain.Preference, error) {
	defer s.lock()()
	p, ok := s.st.d.prefs[email]
	if !ok {
		return nil, suppression.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpsertPreference(_ context.Context, p *domain.Preference) error {
	defer s.lock()()
	s.st.d.prefs[p.Email] = *p
	return nil
}

func (s *Store) InsertSendLog(_ context.Context, entry *domain.SendLogEntry) error {
	defer s.lock()()
	s.st.d.sendLog = append(s.st.d.sendLog, *entry)
	return nil
}

func (s *Store) SetContactStatus(_ context.Context, email string, status domain.ContactStatus, now time.Time) (int, error) {
	defer s.lock()()
	n := 0
	for id, c := range s.st.d.contacts {
		if c.Email != email {
			continue
		}
		c.Status = status
		c.UpdatedAt = now
		s.st.d.contacts[id] = c
		n++
	}
	return n, nil
}

func (s *Store) ListActiveEnrollmentIDs(_ context.Context, email string) ([]string, error) {
	defer s.lock()()
	var ids []string
	for id, e := range s.st.d.enrollments {
		if e.Email == email && e.Status == domain.EnrollmentActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) CancelEnrollment(_ context.Context, id string, now time.Time) (bool, error) {
	defer s.lock()()
	e, ok := s.st.d.enrollments[id]
	if !ok || e.Status != domain.EnrollmentActive {
		return false, nil
	}
	e.Cancel(now)
	s.st.d.enrollments[id] = e
	return true, nil
}

func (s *Store) ListInFlightExecutionIDs(_ context.Context, email string) ([]string, error) {
	defer s.lock()()
	var ids []string
	for id, w := range s.st.d.executions {
		if w.CustomerEmail == email && w.IsInFlight() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) CancelExecution(_ context.Context, id string, now time.Time) (bool, error) {
	defer s.lock()()
	w, ok := s.st.d.executions[id]
	if !ok || !w.IsInFlight() {
		return false, nil
	}
	w.Status = domain.WorkflowCancelled
	w.CompletedAt = &now
	s.st.d.executions[id] = w
	return true, nil
}
