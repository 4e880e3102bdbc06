package sequence

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/utils"
)

const MaxSteps = 10

// StepInput is one step of a sequence definition.
type StepInput struct {
	StepNumber int    `json:"step_number" validate:"min=1"`
	DelayDays  int    `json:"delay_days" validate:"min=0,max=365"`
	Subject    string `json:"subject" validate:"notblank,max=200"`
	Body       string `json:"body" validate:"notblank,max=10000"`
}

// Catalog owns the ordered step templates of each campaign.
type Catalog struct {
	steps     repository.SequenceStepRepository
	campaigns repository.CampaignRepository
	monitor   *monitoring.Monitor
}

func NewCatalog(steps repository.SequenceStepRepository, campaigns repository.CampaignRepository, monitor *monitoring.Monitor) *Catalog {
	return &Catalog{steps: steps, campaigns: campaigns, monitor: monitor}
}

// ValidateSteps checks a full definition and returns every violation.
func ValidateSteps(inputs []StepInput) []string {
	var problems []string
	if len(inputs) == 0 {
		return []string{"sequence must have at least one step"}
	}
	if len(inputs) > MaxSteps {
		problems = append(problems, fmt.Sprintf("sequence cannot have more than %d steps", MaxSteps))
	}

	seen := make(map[int]bool, len(inputs))
	for i, in := range inputs {
		for _, msg := range utils.ValidationMessages(in) {
			problems = append(problems, fmt.Sprintf("Step %d: %s", i+1, msg))
		}
		if in.StepNumber < 1 {
			continue
		}
		if seen[in.StepNumber] {
			problems = append(problems, fmt.Sprintf("Step %d: duplicate step_number %d", i+1, in.StepNumber))
		}
		seen[in.StepNumber] = true
	}

	for n := 1; n <= len(seen); n++ {
		if !seen[n] {
			problems = append(problems, fmt.Sprintf("step numbers must be sequential starting at 1 (missing step %d)", n))
			break
		}
	}
	return problems
}

// CreateSequence replaces the campaign's whole step set. Nothing is written
// unless every step is valid.
func (c *Catalog) CreateSequence(ctx context.Context, campaignID uint, inputs []StepInput) ([]models.SequenceStep, error) {
	if problems := ValidateSteps(inputs); len(problems) > 0 {
		return nil, &ValidationError{Errors: problems}
	}

	if _, err := c.campaigns.FindByID(ctx, campaignID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	steps := make([]models.SequenceStep, len(inputs))
	for i, in := range inputs {
		steps[i] = models.SequenceStep{
			CampaignID: campaignID,
			StepNumber: in.StepNumber,
			DelayDays:  in.DelayDays,
			Subject:    in.Subject,
			Body:       in.Body,
			IsActive:   true,
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })

	if err := c.steps.ReplaceForCampaign(ctx, campaignID, steps); err != nil {
		c.monitor.LogError("sequence_replace", err, map[string]interface{}{"campaign_id": campaignID})
		return nil, fmt.Errorf("failed to save sequence: %w", err)
	}

	c.monitor.LogEvent("sequence_created", map[string]interface{}{
		"campaign_id": campaignID,
		"steps":       len(steps),
	})
	return steps, nil
}

// ActiveStep returns the active step, or nil when there is none.
func (c *Catalog) ActiveStep(ctx context.Context, campaignID uint, stepNumber int) (*models.SequenceStep, error) {
	step, err := c.steps.FindActive(ctx, campaignID, stepNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return step, err
}

func (c *Catalog) Steps(ctx context.Context, campaignID uint) ([]models.SequenceStep, error) {
	return c.steps.ListActive(ctx, campaignID)
}
