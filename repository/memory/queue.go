package memory

import (
	"context"
	"sort"
	"time"

	"leadpilot/models"
	"leadpilot/repository"
)

type queueRepo struct{ s *Store }

func (r *queueRepo) Upsert(ctx context.Context, q *models.QueuedLead) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("queue.upsert"); err != nil {
		return err
	}
	for id, existing := range s.queue {
		if existing.LeadID == q.LeadID && existing.CampaignID == q.CampaignID {
			q.ID = id
			q.CreatedAt = existing.CreatedAt
			q.UpdatedAt = s.now()
			q.ScheduledFor = existing.ScheduledFor
			q.ProcessedAt = existing.ProcessedAt
			q.LastError = existing.LastError
			s.queue[id] = *q
			return nil
		}
	}
	q.ID, q.CreatedAt = s.stamp()
	q.UpdatedAt = q.CreatedAt
	s.queue[q.ID] = *q
	return nil
}

func (r *queueRepo) FindByID(ctx context.Context, id uint) (*models.QueuedLead, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queue[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &q, nil
}

func (r *queueRepo) NextReady(ctx context.Context, campaignID *uint, now time.Time, limit int) ([]models.QueuedLead, error) {
	return r.filter(campaignID, limit, func(q models.QueuedLead) bool {
		return q.QueueStatus == models.QueueStatusReady && (q.ScheduledFor == nil || !q.ScheduledFor.After(now))
	}), nil
}

func (r *queueRepo) ListByStatus(ctx context.Context, campaignID *uint, status string, limit int) ([]models.QueuedLead, error) {
	return r.filter(campaignID, limit, func(q models.QueuedLead) bool { return q.QueueStatus == status }), nil
}

func (r *queueRepo) List(ctx context.Context, campaignID, userID *uint) ([]models.QueuedLead, error) {
	return r.filter(campaignID, 0, func(q models.QueuedLead) bool {
		// filter holds mu
		return userID == nil || r.s.campaigns[q.CampaignID].UserID == *userID
	}), nil
}

func (r *queueRepo) filter(campaignID *uint, limit int, keep func(models.QueuedLead) bool) []models.QueuedLead {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueuedLead
	for _, q := range s.queue {
		if campaignID != nil && q.CampaignID != *campaignID {
			continue
		}
		if keep(q) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *queueRepo) Save(ctx context.Context, q *models.QueuedLead) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("queue.save"); err != nil {
		return err
	}
	if _, ok := s.queue[q.ID]; !ok {
		return repository.ErrNotFound
	}
	q.UpdatedAt = s.now()
	s.queue[q.ID] = *q
	return nil
}

func (r *queueRepo) Delete(ctx context.Context, id uint) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.queue, id)
	return nil
}

type signalRepo struct{ s *Store }

func (r *signalRepo) TopActionable(ctx context.Context, leadID uint, limit int) ([]models.IntentSignal, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("signals.top"); err != nil {
		return nil, err
	}
	var out []models.IntentSignal
	for _, sig := range s.signals {
		if sig.LeadID == leadID && sig.IsActionable {
			out = append(out, sig)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *signalRepo) LatestHealthScore(ctx context.Context, leadID uint) (*models.WebsiteHealthScore, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("signals.health"); err != nil {
		return nil, err
	}
	var latest *models.WebsiteHealthScore
	for _, h := range s.health {
		if h.LeadID != leadID {
			continue
		}
		if latest == nil || h.CheckedAt.After(latest.CheckedAt) {
			h := h
			latest = &h
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

type analyticsRepo struct{ s *Store }

func (r *analyticsRepo) Record(ctx context.Context, e *models.AnalyticsEvent) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("analytics.record"); err != nil {
		return err
	}
	e.ID, e.CreatedAt = s.stamp()
	s.events = append(s.events, *e)
	return nil
}

func (r *analyticsRepo) RecordOpen(ctx context.Context, o *models.EmailOpen) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("analytics.record_open"); err != nil {
		return err
	}
	o.ID, o.CreatedAt = s.stamp()
	s.opens = append(s.opens, *o)
	return nil
}

func (r *analyticsRepo) OpenTimes(ctx context.Context, campaignID uint) ([]time.Time, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Time
	for _, o := range s.opens {
		if o.CampaignID == campaignID {
			out = append(out, o.OpenedAt)
		}
	}
	return out, nil
}

type webhookRepo struct{ s *Store }

func (r *webhookRepo) Create(ctx context.Context, w *models.Webhook) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID, w.CreatedAt = s.stamp()
	w.UpdatedAt = w.CreatedAt
	s.webhooks[w.ID] = *w
	return nil
}

func (r *webhookRepo) FindByID(ctx context.Context, userID, id uint) (*models.Webhook, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok || w.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (r *webhookRepo) ListByUser(ctx context.Context, userID uint) ([]models.Webhook, error) {
	return r.list(func(w models.Webhook) bool { return w.UserID == userID }), nil
}

func (r *webhookRepo) ListActiveForEvent(ctx context.Context, userID uint, event string) ([]models.Webhook, error) {
	return r.list(func(w models.Webhook) bool {
		return w.UserID == userID && w.IsActive && w.Subscribes(event)
	}), nil
}

func (r *webhookRepo) list(keep func(models.Webhook) bool) []models.Webhook {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Webhook
	for _, w := range s.webhooks {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *webhookRepo) Delete(ctx context.Context, userID, id uint) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok || w.UserID != userID {
		return repository.ErrNotFound
	}
	delete(s.webhooks, id)
	return nil
}

func (r *webhookRepo) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID, d.CreatedAt = s.stamp()
	s.deliveries = append(s.deliveries, *d)
	return nil
}

func (r *webhookRepo) MarkTriggered(ctx context.Context, id uint, statusCode int, at time.Time, failed bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return repository.ErrNotFound
	}
	w.LastTriggeredAt = &at
	w.LastStatusCode = statusCode
	if failed {
		w.FailureCount++
	}
	s.webhooks[id] = w
	return nil
}

// Webhook returns a stored webhook for inspection.
func (s *Store) Webhook(id uint) models.Webhook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webhooks[id]
}
