// Package memory is an in-process implementation of every repository, used by
// unit tests and by the server's --in-memory development mode.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadpilot/models"
	"leadpilot/repository"
)

// ErrDuplicate mirrors a unique-index violation.
var ErrDuplicate = errors.New("duplicate key value violates unique constraint")

// Store holds every table in maps guarded by a single mutex.
// Rows are copied on the way in and out so callers never alias stored state.
type Store struct {
	mu     sync.Mutex
	nextID uint
	now    func() time.Time
	fail   map[string]error

	users      map[uint]models.User
	campaigns  map[uint]models.Campaign
	leads      map[uint]models.Lead
	steps      map[uint]models.SequenceStep
	progress   map[uint]models.LeadSequenceProgress
	queue      map[uint]models.QueuedLead
	emails     map[uint]models.Email
	signals    []models.IntentSignal
	health     []models.WebsiteHealthScore
	opens      []models.EmailOpen
	events     []models.AnalyticsEvent
	webhooks   map[uint]models.Webhook
	deliveries []models.WebhookDelivery
}

func New() *Store {
	return &Store{
		now:       time.Now,
		fail:      make(map[string]error),
		users:     make(map[uint]models.User),
		campaigns: make(map[uint]models.Campaign),
		leads:     make(map[uint]models.Lead),
		steps:     make(map[uint]models.SequenceStep),
		progress:  make(map[uint]models.LeadSequenceProgress),
		queue:     make(map[uint]models.QueuedLead),
		emails:    make(map[uint]models.Email),
		webhooks:  make(map[uint]models.Webhook),
	}
}

// SetClock replaces the clock used for CreatedAt/UpdatedAt stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes every later call of op return err until cleared with a nil err.
// Op names are "<table>.<method>", e.g. "steps.replace" or "emails.create".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Set returns a repository.Set backed by this store.
func (s *Store) Set() repository.Set {
	return repository.Set{
		Steps:     &stepRepo{s},
		Progress:  &progressRepo{s},
		Leads:     &leadRepo{s},
		Emails:    &emailRepo{s},
		Campaigns: &campaignRepo{s},
		Queue:     &queueRepo{s},
		Signals:   &signalRepo{s},
		Analytics: &analyticsRepo{s},
		Webhooks:  &webhookRepo{s},
		Users:     &userRepo{s},
	}
}

// failure and stamp must be called with mu held.
func (s *Store) failure(op string) error {
	if err, ok := s.fail[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) stamp() (uint, time.Time) {
	s.nextID++
	return s.nextID, s.now()
}

// Seed helpers. Each assigns an ID and returns the stored copy.

func (s *Store) AddUser(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID, u.CreatedAt = s.stamp()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	return u
}

func (s *Store) AddCampaign(c models.Campaign) models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID, c.CreatedAt = s.stamp()
	c.UpdatedAt = c.CreatedAt
	c.Steps = nil
	s.campaigns[c.ID] = c
	return c
}

func (s *Store) AddLead(l models.Lead) models.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID, l.CreatedAt = s.stamp()
	l.UpdatedAt = l.CreatedAt
	s.leads[l.ID] = l
	return l
}

func (s *Store) AddSignal(sig models.IntentSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig.ID, sig.CreatedAt = s.stamp()
	s.signals = append(s.signals, sig)
}

func (s *Store) AddHealthScore(h models.WebsiteHealthScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.ID, h.CreatedAt = s.stamp()
	s.health = append(s.health, h)
}

func (s *Store) AddEmailOpen(o models.EmailOpen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID, o.CreatedAt = s.stamp()
	s.opens = append(s.opens, o)
}

// Inspection helpers for tests.

func (s *Store) Campaign(id uint) models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaigns[id]
}

func (s *Store) Lead(id uint) models.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leads[id]
}

func (s *Store) Emails() []models.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Email, 0, len(s.emails))
	for _, e := range s.emails {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AnalyticsEvents() []models.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AnalyticsEvent(nil), s.events...)
}

func (s *Store) Opens() []models.EmailOpen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EmailOpen(nil), s.opens...)
}

func (s *Store) Deliveries() []models.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WebhookDelivery(nil), s.deliveries...)
}

func (s *Store) StepCount(campaignID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.steps {
		if st.CampaignID == campaignID {
			n++
		}
	}
	return n
}

func (s *Store) ProgressCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.progress)
}

// SetStepActive toggles a stored step's active flag.
func (s *Store) SetStepActive(campaignID uint, stepNumber int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.steps {
		if st.CampaignID == campaignID && st.StepNumber == stepNumber {
			st.IsActive = active
			s.steps[id] = st
		}
	}
}

func ctxErr(ctx context.Context) error {
	return ctx.Err()
}
