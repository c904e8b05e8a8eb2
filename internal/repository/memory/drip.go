package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/service/drip"
)

var _ drip.Repository = (*Store)(nil)

func (s *Store) RunInTx(ctx context.Context, fn func(tx drip.Repository) error) error {
	return s.runInTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	defer s.lock()()
	s.st.d.campaigns[c.ID] = *c
	return nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	defer s.lock()()
	c, ok := s.st.d.campaigns[id]
	if !ok {
		return nil, drip.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListCampaignsByStore(_ context.Context, storeID string) ([]domain.Campaign, error) {
	defer s.lock()()
	return s.filterCampaigns(func(c *domain.Campaign) bool { return c.StoreID == storeID }), nil
}

func (s *Store) ListActiveCampaignsByTrigger(_ context.Context, storeID string, trigger domain.TriggerType) ([]domain.Campaign, error) {
	defer s.lock()()
	return s.filterCampaigns(func(c *domain.Campaign) bool {
		return c.StoreID == storeID && c.IsActive && c.TriggerType == trigger
	}), nil
}

func (s *Store) filterCampaigns(keep func(*domain.Campaign) bool) []domain.Campaign {
	out := []domain.Campaign{}
	for _, c := range s.st.d.campaigns {
		if keep(&c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) SetCampaignActive(_ context.Context, id string, active bool, now time.Time) error {
	defer s.lock()()
	c, ok := s.st.d.campaigns[id]
	if !ok {
		return drip.ErrNotFound
	}
	c.IsActive = active
	c.UpdatedAt = now
	s.st.d.campaigns[id] = c
	return nil
}

func (s *Store) IncrementCampaignCounters(_ context.Context, id string, enrolled, completed int) error {
	defer s.lock()()
	c, ok := s.st.d.campaigns[id]
	if !ok {
		return drip.ErrNotFound
	}
	c.TotalEnrolled += enrolled
	c.TotalCompleted += completed
	s.st.d.campaigns[id] = c
	return nil
}

func (s *Store) DeleteCampaign(_ context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.st.d.campaigns[id]; !ok {
		return drip.ErrNotFound
	}
	delete(s.st.d.campaigns, id)
	for k, st := range s.st.d.steps {
		if st.CampaignID == id {
			delete(s.st.d.steps, k)
		}
	}
	for k, e := range s.st.d.enrollments {
		if e.CampaignID == id {
			delete(s.st.d.enrollments, k)
		}
	}
	return nil
}

func (s *Store) CreateStep(_ context.Context, st *domain.Step) error {
	defer s.lock()()
	for _, existing := range s.st.d.steps {
		if existing.CampaignID == st.CampaignID && existing.StepNumber == st.StepNumber {
			return drip.ErrDuplicateStep
		}
	}
	s.st.d.steps[st.ID] = *st
	return nil
}

func (s *Store) GetStep(_ context.Context, id string) (*domain.Step, error) {
	defer s.lock()()
	st, ok := s.st.d.steps[id]
	if !ok {
		return nil, drip.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListSteps(_ context.Context, campaignID string) ([]domain.Step, error) {
	defer s.lock()()
	out := []domain.Step{}
	for _, st := range s.st.d.steps {
		if st.CampaignID == campaignID {
			out = append(out, st)
		}
	}
	return domain.SortSteps(out), nil
}

func (s *Store) UpdateStep(_ context.Context, id string, u drip.StepUpdate) error {
	defer s.lock()()
	st, ok := s.st.d.steps[id]
	if !ok {
		return drip.ErrNotFound
	}
	if u.DelayMinutes != nil {
		st.DelayMinutes = *u.DelayMinutes
	}
	if u.Subject != nil {
		st.Subject = *u.Subject
	}
	if u.HTMLContent != nil {
		st.HTMLContent = *u.HTMLContent
	}
	if u.TextContent != nil {
		st.TextContent = *u.TextContent
	}
	if u.IsActive != nil {
		st.IsActive = *u.IsActive
	}
	s.st.d.steps[id] = st
	return nil
}

func (s *Store) DeleteStep(_ context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.st.d.steps[id]; !ok {
		return drip.ErrNotFound
	}
	delete(s.st.d.steps, id)
	return nil
}

func (s *Store) IncrementStepSent(_ context.Context, stepID string) error {
	defer s.lock()()
	st, ok := s.st.d.steps[stepID]
	if !ok {
		return drip.ErrNotFound
	}
	st.SentCount++
	s.st.d.steps[stepID] = st
	return nil
}

func (s *Store) CreateEnrollment(_ context.Context, e *domain.Enrollment) error {
	defer s.lock()()
	for _, existing := range s.st.d.enrollments {
		if existing.CampaignID == e.CampaignID && existing.Email == e.Email {
			return drip.ErrDuplicateEnrollment
		}
	}
	s.st.d.enrollments[e.ID] = *e
	return nil
}

func (s *Store) GetEnrollment(_ context.Context, id string) (*domain.Enrollment, error) {
	defer s.lock()()
	e, ok := s.st.d.enrollments[id]
	if !ok {
		return nil, drip.ErrNotFound
	}
	return &e, nil
}

func (s *Store) FindEnrollment(_ context.Context, campaignID, email string) (*domain.Enrollment, error) {
	defer s.lock()()
	for _, e := range s.st.d.enrollments {
		if e.CampaignID == campaignID && e.Email == email {
			return &e, nil
		}
	}
	return nil, drip.ErrNotFound
}

func (s *Store) SaveEnrollment(_ context.Context, e *domain.Enrollment) error {
	defer s.lock()()
	if _, ok := s.st.d.enrollments[e.ID]; !ok {
		return drip.ErrNotFound
	}
	s.st.d.enrollments[e.ID] = *e
	return nil
}

func (s *Store) ListEnrollmentsByEmail(_ context.Context, email string) ([]domain.Enrollment, error) {
	defer s.lock()()
	out := s.filterEnrollments(func(e *domain.Enrollment) bool { return e.Email == email })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListDueEnrollments(_ context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	defer s.lock()()
	out := s.filterEnrollments(func(e *domain.Enrollment) bool { return e.IsDue(now) })
	return oldestFirst(out, limit), nil
}

func (s *Store) ListStuckEnrollments(_ context.Context, before time.Time, limit int) ([]domain.Enrollment, error) {
	defer s.lock()()
	out := s.filterEnrollments(func(e *domain.Enrollment) bool {
		return e.Status == domain.EnrollmentActive && e.NextSendAt != nil && e.NextSendAt.Before(before)
	})
	return oldestFirst(out, limit), nil
}

func (s *Store) ResetNextSendAt(_ context.Context, id string, cutoff, at time.Time) (bool, error) {
	defer s.lock()()
	e, ok := s.st.d.enrollments[id]
	if !ok || e.Status != domain.EnrollmentActive || e.NextSendAt == nil || !e.NextSendAt.Before(cutoff) {
		return false, nil
	}
	e.NextSendAt = &at
	s.st.d.enrollments[id] = e
	return true, nil
}

func (s *Store) CountEnrollmentsByStatus(_ context.Context, campaignID string) (map[domain.EnrollmentStatus]int, error) {
	defer s.lock()()
	counts := make(map[domain.EnrollmentStatus]int)
	for _, e := range s.st.d.enrollments {
		if e.CampaignID == campaignID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (s *Store) filterEnrollments(keep func(*domain.Enrollment) bool) []domain.Enrollment {
	out := []domain.Enrollment{}
	for _, e := range s.st.d.enrollments {
		if keep(&e) {
			out = append(out, e)
		}
	}
	return out
}

func oldestFirst(out []domain.Enrollment, limit int) []domain.Enrollment {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextSendAt, out[j].NextSendAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
