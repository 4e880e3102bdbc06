package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"leadpilot/models"
	"leadpilot/repository"
)

type stepRepo struct{ s *Store }

func (r *stepRepo) ReplaceForCampaign(ctx context.Context, campaignID uint, steps []models.SequenceStep) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("steps.replace"); err != nil {
		return err
	}

	seen := make(map[int]bool, len(steps))
	for _, st := range steps {
		if seen[st.StepNumber] {
			return fmt.Errorf("step %d: %w", st.StepNumber, ErrDuplicate)
		}
		seen[st.StepNumber] = true
	}

	for id, st := range s.steps {
		if st.CampaignID == campaignID {
			delete(s.steps, id)
		}
	}
	for i := range steps {
		steps[i].CampaignID = campaignID
		steps[i].ID, steps[i].CreatedAt = s.stamp()
		steps[i].UpdatedAt = steps[i].CreatedAt
		s.steps[steps[i].ID] = steps[i]
	}
	return nil
}

func (r *stepRepo) FindActive(ctx context.Context, campaignID uint, stepNumber int) (*models.SequenceStep, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("steps.find"); err != nil {
		return nil, err
	}
	for _, st := range s.steps {
		if st.CampaignID == campaignID && st.StepNumber == stepNumber && st.IsActive {
			found := st
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stepRepo) ListActive(ctx context.Context, campaignID uint) ([]models.SequenceStep, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceStep
	for _, st := range s.steps {
		if st.CampaignID == campaignID && st.IsActive {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

type progressRepo struct{ s *Store }

func (r *progressRepo) FindByLead(ctx context.Context, leadID uint) (*models.LeadSequenceProgress, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("progress.find"); err != nil {
		return nil, err
	}
	for _, p := range s.progress {
		if p.LeadID == leadID {
			found := p
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *progressRepo) Create(ctx context.Context, p *models.LeadSequenceProgress) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("progress.create"); err != nil {
		return err
	}
	for _, existing := range s.progress {
		if existing.LeadID == p.LeadID {
			return fmt.Errorf("lead %d: %w", p.LeadID, ErrDuplicate)
		}
	}
	p.ID, p.CreatedAt = s.stamp()
	p.UpdatedAt = p.CreatedAt
	stored := *p
	stored.Lead = models.Lead{}
	s.progress[p.ID] = stored
	return nil
}

func (r *progressRepo) Save(ctx context.Context, p *models.LeadSequenceProgress) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("progress.save"); err != nil {
		return err
	}
	if _, ok := s.progress[p.ID]; !ok {
		return repository.ErrNotFound
	}
	p.UpdatedAt = s.now()
	stored := *p
	stored.Lead = models.Lead{}
	s.progress[p.ID] = stored
	return nil
}

func (r *progressRepo) ListEligible(ctx context.Context, now time.Time, userID *uint, limit int) ([]models.LeadSequenceProgress, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("progress.eligible"); err != nil {
		return nil, err
	}
	var out []models.LeadSequenceProgress
	for _, p := range s.progress {
		lead, ok := s.leads[p.LeadID]
		if !ok || lead.HasReplied || !p.DueAt(now) {
			continue
		}
		if userID != nil && lead.UserID != *userID {
			continue
		}
		p.Lead = lead
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextSendDate.Equal(*out[j].NextSendDate) {
			return out[i].NextSendDate.Before(*out[j].NextSendDate)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type leadRepo struct{ s *Store }

func (r *leadRepo) FindByID(ctx context.Context, id uint) (*models.Lead, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("leads.find"); err != nil {
		return nil, err
	}
	lead, ok := s.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lead, nil
}

func (r *leadRepo) FindByIDs(ctx context.Context, ids []uint) ([]models.Lead, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lead
	for _, id := range ids {
		if lead, ok := s.leads[id]; ok {
			out = append(out, lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *leadRepo) MarkReplied(ctx context.Context, id uint, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("leads.mark_replied"); err != nil {
		return err
	}
	lead, ok := s.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.HasReplied = true
	lead.Status = models.LeadStatusReplied
	lead.RepliedAt = &at
	s.leads[id] = lead
	return nil
}

// UnmarkReplied is a test helper that reopens a lead.
func (s *Store) UnmarkReplied(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead := s.leads[id]
	lead.HasReplied = false
	lead.RepliedAt = nil
	s.leads[id] = lead
}

type emailRepo struct{ s *Store }

func (r *emailRepo) Create(ctx context.Context, e *models.Email) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("emails.create"); err != nil {
		return err
	}
	for _, existing := range s.emails {
		if existing.MessageID == e.MessageID {
			return fmt.Errorf("message %s: %w", e.MessageID, ErrDuplicate)
		}
	}
	e.ID, e.CreatedAt = s.stamp()
	e.UpdatedAt = e.CreatedAt
	s.emails[e.ID] = *e
	return nil
}

func (r *emailRepo) FindByID(ctx context.Context, id uint) (*models.Email, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r *emailRepo) FindByMessageID(ctx context.Context, messageID string) (*models.Email, error) {
	return r.latest(func(e models.Email) bool { return messageID != "" && e.MessageID == messageID })
}

func (r *emailRepo) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Email, error) {
	return r.latest(func(e models.Email) bool {
		return providerMessageID != "" && e.ProviderMessageID == providerMessageID
	})
}

func (r *emailRepo) FindLatestByThreadID(ctx context.Context, threadID string) (*models.Email, error) {
	return r.latest(func(e models.Email) bool { return threadID != "" && e.ThreadID == threadID })
}

func (r *emailRepo) latest(match func(models.Email) bool) (*models.Email, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Email
	for _, e := range s.emails {
		if !match(e) {
			continue
		}
		if found == nil || e.ID > found.ID {
			e := e
			found = &e
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *emailRepo) ListQueued(ctx context.Context, limit int) ([]models.Email, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Email
	for _, e := range s.emails {
		if e.Status == models.EmailStatusQueued {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *emailRepo) Save(ctx context.Context, e *models.Email) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("emails.save"); err != nil {
		return err
	}
	if _, ok := s.emails[e.ID]; !ok {
		return repository.ErrNotFound
	}
	e.UpdatedAt = s.now()
	s.emails[e.ID] = *e
	return nil
}

func (r *emailRepo) MarkReplied(ctx context.Context, id uint, text, sentiment string, at time.Time) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("emails.mark_replied"); err != nil {
		return false, err
	}
	e, ok := s.emails[id]
	if !ok || e.Status == models.EmailStatusReplied {
		return false, nil
	}
	e.Status = models.EmailStatusReplied
	e.RepliedAt = &at
	e.ReplyText = text
	e.ReplySentiment = sentiment
	s.emails[id] = e
	return true, nil
}

// SetEmailSent records delivery identifiers on a stored email.
func (s *Store) SetEmailSent(id uint, providerMessageID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.emails[id]
	now := s.now()
	e.Status = models.EmailStatusSent
	e.SentAt = &now
	e.ProviderMessageID = providerMessageID
	e.ThreadID = threadID
	s.emails[id] = e
}

type campaignRepo struct{ s *Store }

func (r *campaignRepo) FindByID(ctx context.Context, id uint) (*models.Campaign, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("campaigns.find"); err != nil {
		return nil, err
	}
	c, ok := s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *campaignRepo) IncrementCounter(ctx context.Context, id uint, column string, delta int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("campaigns.increment"); err != nil {
		return err
	}
	c, ok := s.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	switch column {
	case repository.CounterTotalLeads:
		c.TotalLeads += delta
	case repository.CounterEmailsQueued:
		c.EmailsQueued += delta
	case repository.CounterEmailsSent:
		c.EmailsSent += delta
	case repository.CounterEmailsReplied:
		c.EmailsReplied += delta
	default:
		return fmt.Errorf("unknown campaign counter %q", column)
	}
	s.campaigns[id] = c
	return nil
}

type userRepo struct{ s *Store }

func (r *userRepo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}
