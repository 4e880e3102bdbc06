// Package queue ranks leads waiting to be contacted.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/schedule"
	"leadpilot/utils"
)

const (
	DefaultPriority       = 50
	DefaultBatchLimit     = 10
	HighPriorityThreshold = 70
	maxSignals            = 5
)

var (
	ErrQueueItemNotFound = errors.New("queue item not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrInvalidStatus     = errors.New("invalid queue status")
)

// RecommendApproach applies the outreach decision table in order:
// strong intent, then a weak website, then moderate intent.
// A nil health score skips the website rule.
func RecommendApproach(intentScore int, healthScore *int) string {
	switch {
	case intentScore >= 70:
		return models.ApproachHighIntentAggressive
	case healthScore != nil && *healthScore < 50:
		return models.ApproachWebsiteImprovementPitch
	case intentScore >= 40:
		return models.ApproachModerateInterestNurture
	default:
		return models.ApproachStandardOutreach
	}
}

type Service struct {
	queue     repository.QueueRepository
	leads     repository.LeadRepository
	signals   repository.SignalRepository
	campaigns repository.CampaignRepository
	monitor   *monitoring.Monitor

	// DefaultWindow applies to campaigns without their own sending window
	DefaultWindow schedule.SendingWindow
	Now           func() time.Time
}

func NewService(repos repository.Set, monitor *monitoring.Monitor) *Service {
	return &Service{
		queue:     repos.Queue,
		leads:     repos.Leads,
		signals:   repos.Signals,
		campaigns: repos.Campaigns,
		monitor:   monitor,

		DefaultWindow: schedule.DefaultWindow(),
		Now:           time.Now,
	}
}

type AddResult struct {
	Added   int                 `json:"added"`
	Missing []uint              `json:"missing"`
	Errors  []string            `json:"errors"`
	Entries []models.QueuedLead `json:"entries"`
}

// AddLeads snapshots each lead's scores and signals into the campaign's queue.
// Re-adding a lead refreshes its row and resets it to pending.
func (s *Service) AddLeads(ctx context.Context, campaignID uint, leadIDs []uint) (AddResult, error) {
	result := AddResult{Missing: []uint{}, Errors: []string{}, Entries: []models.QueuedLead{}}

	campaign, err := s.campaigns.FindByID(ctx, campaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return result, ErrCampaignNotFound
	}
	if err != nil {
		return result, fmt.Errorf("failed to load campaign: %w", err)
	}

	leads, err := s.leads.FindByIDs(ctx, leadIDs)
	if err != nil {
		return result, fmt.Errorf("failed to load leads: %w", err)
	}
	found := make(map[uint]bool, len(leads))
	for _, l := range leads {
		found[l.ID] = true
	}
	for _, id := range leadIDs {
		if !found[id] {
			result.Missing = append(result.Missing, id)
		}
	}

	for i := range leads {
		entry := s.buildEntry(ctx, campaign, &leads[i])
		if err := s.queue.Upsert(ctx, &entry); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("lead %d: %s", entry.LeadID, err.Error()))
			s.monitor.LogError("queue_upsert", err, map[string]interface{}{"lead_id": entry.LeadID, "campaign_id": campaignID})
			continue
		}
		result.Added++
		result.Entries = append(result.Entries, entry)
	}

	s.monitor.Incr("queue.added", int64(result.Added))
	s.monitor.LogEvent("queue_leads_added", map[string]interface{}{
		"campaign_id": campaignID,
		"added":       result.Added,
		"missing":     len(result.Missing),
	})
	return result, nil
}

func (s *Service) buildEntry(ctx context.Context, campaign *models.Campaign, lead *models.Lead) models.QueuedLead {
	// Signal and health lookups degrade to empty rather than failing the add
	signals, err := s.signals.TopActionable(ctx, lead.ID, maxSignals)
	if err != nil {
		s.monitor.LogError("intent_signal_lookup", err, map[string]interface{}{"lead_id": lead.ID})
		signals = nil
	}
	var health *int
	score, err := s.signals.LatestHealthScore(ctx, lead.ID)
	switch {
	case err == nil:
		health = utils.Pointer(score.OverallScore)
	case !errors.Is(err, repository.ErrNotFound):
		s.monitor.LogError("health_score_lookup", err, map[string]interface{}{"lead_id": lead.ID})
	}

	snapshots := make([]models.SignalSnapshot, 0, len(signals))
	for _, sig := range signals {
		snapshots = append(snapshots, models.SignalSnapshot{
			Type:        sig.SignalType,
			Description: sig.Description,
			Relevance:   sig.RelevanceScore,
		})
	}

	priority := DefaultPriority
	if lead.PriorityScore != nil {
		priority = *lead.PriorityScore
	}

	window := s.DefaultWindow
	if campaign.HasSendingWindow() {
		window.StartHour = campaign.SendStartHour
		window.EndHour = campaign.SendEndHour
		window.BusinessDaysOnly = campaign.BusinessDaysOnly
	}
	tz := campaign.Timezone
	if tz == "" {
		tz = schedule.DetectTimezone(lead.Address)
	}

	return models.QueuedLead{
		LeadID:              lead.ID,
		CampaignID:          campaign.ID,
		PriorityScore:       priority,
		IntentScore:         lead.IntentScore,
		WebsiteHealthScore:  health,
		RecommendedApproach: RecommendApproach(lead.IntentScore, health),
		IntentSignals:       snapshots,
		QueueStatus:         models.QueueStatusPending,
		SendWindowStart:     window.StartHour,
		SendWindowEnd:       window.EndHour,
		Timezone:            tz,
		BusinessDaysOnly:    window.BusinessDaysOnly,
	}
}

// NextBatch returns ready rows that are due, highest priority first. Equal
// priorities go oldest first.
func (s *Service) NextBatch(ctx context.Context, campaignID *uint, limit int) ([]models.QueuedLead, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return s.queue.NextReady(ctx, campaignID, s.Now(), limit)
}

func (s *Service) find(ctx context.Context, id uint) (*models.QueuedLead, error) {
	q, err := s.queue.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrQueueItemNotFound
	}
	return q, err
}

// UpdateStatus sets the status. Transitions are not enforced beyond the status being known.
func (s *Service) UpdateStatus(ctx context.Context, id uint, status string, lastError string) (*models.QueuedLead, error) {
	if !models.IsValidQueueStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	q, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	q.QueueStatus = status
	q.LastError = lastError
	switch status {
	case models.QueueStatusSent, models.QueueStatusFailed, models.QueueStatusSkipped:
		q.ProcessedAt = utils.Pointer(s.Now())
	}
	if err := s.queue.Save(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to update queue item: %w", err)
	}
	return q, nil
}

func (s *Service) Remove(ctx context.Context, id uint) error {
	err := s.queue.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrQueueItemNotFound
	}
	return err
}

// Schedule sets the send time and marks the row ready.
func (s *Service) Schedule(ctx context.Context, id uint, at time.Time) (*models.QueuedLead, error) {
	q, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	q.ScheduledFor = &at
	q.QueueStatus = models.QueueStatusReady
	if err := s.queue.Save(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to schedule queue item: %w", err)
	}
	return q, nil
}

// PromoteReady moves up to limit pending rows to ready, highest priority first.
func (s *Service) PromoteReady(ctx context.Context, campaignID *uint, limit int) (int, error) {
	pending, err := s.queue.ListByStatus(ctx, campaignID, models.QueueStatusPending, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending items: %w", err)
	}
	promoted := 0
	for i := range pending {
		pending[i].QueueStatus = models.QueueStatusReady
		if err := s.queue.Save(ctx, &pending[i]); err != nil {
			return promoted, fmt.Errorf("failed to promote queue item %d: %w", pending[i].ID, err)
		}
		promoted++
	}
	return promoted, nil
}

type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	AveragePriority float64        `json:"average_priority"`
	HighPriority    int            `json:"high_priority"`
}

// Stats is recomputed from the rows on every call. A nil campaignID covers the
// whole queue.
func (s *Service) Stats(ctx context.Context, campaignID *uint) (Stats, error) {
	return s.stats(ctx, campaignID, nil)
}

// UserStats covers every campaign owned by userID.
func (s *Service) UserStats(ctx context.Context, userID uint) (Stats, error) {
	return s.stats(ctx, nil, &userID)
}

func (s *Service) stats(ctx context.Context, campaignID, userID *uint) (Stats, error) {
	rows, err := s.queue.List(ctx, campaignID, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list queue: %w", err)
	}

	stats := Stats{ByStatus: make(map[string]int, len(models.QueueStatuses))}
	for _, status := range models.QueueStatuses {
		stats.ByStatus[status] = 0
	}
	sum := 0
	for _, q := range rows {
		stats.Total++
		stats.ByStatus[q.QueueStatus]++
		sum += q.PriorityScore
		if q.PriorityScore >= HighPriorityThreshold {
			stats.HighPriority++
		}
	}
	if stats.Total > 0 {
		stats.AveragePriority = math.Round(float64(sum)/float64(stats.Total)*100) / 100
	}
	return stats, nil
}
