package controller

import (
	"github.com/gofiber/fiber/v2"

	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/sequence"
	"leadpilot/utils"
)

const manualPause = "Paused manually"

type SequenceController struct {
	Repos     repository.Set
	Catalog   *sequence.Catalog
	Tracker   *sequence.Tracker
	Processor *sequence.Processor
	Monitor   *monitoring.Monitor
	// BatchSize is used when a process request names none
	BatchSize int
}

func NewSequenceController(repos repository.Set, catalog *sequence.Catalog, tracker *sequence.Tracker, processor *sequence.Processor, monitor *monitoring.Monitor) *SequenceController {
	return &SequenceController{
		Repos:     repos,
		Catalog:   catalog,
		Tracker:   tracker,
		Processor: processor,
		Monitor:   monitor,
		BatchSize: sequence.DefaultBatchSize,
	}
}

// CreateSequence replaces the campaign's steps with the posted definition.
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	campaignID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign ID", nil)
	}

	var input struct {
		Steps []sequence.StepInput `json:"steps"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if _, err := ownedCampaign(c, sc.Repos.Campaigns, campaignID); err != nil {
		return respondError(c, sc.Monitor, "load_campaign", err)
	}

	steps, err := sc.Catalog.CreateSequence(c.UserContext(), campaignID, input.Steps)
	if err != nil {
		return respondError(c, sc.Monitor, "create_sequence", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id": campaignID,
		"steps":       steps,
	}))
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	campaignID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign ID", nil)
	}
	if _, err := ownedCampaign(c, sc.Repos.Campaigns, campaignID); err != nil {
		return respondError(c, sc.Monitor, "load_campaign", err)
	}

	steps, err := sc.Catalog.Steps(c.UserContext(), campaignID)
	if err != nil {
		return respondError(c, sc.Monitor, "list_steps", err)
	}
	return c.JSON(utils.SuccessResponse(steps))
}

// InitSequence starts a lead at step 1. The campaign defaults to the lead's own.
func (sc *SequenceController) InitSequence(c *fiber.Ctx) error {
	leadID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead ID", nil)
	}

	var input struct {
		CampaignID uint `json:"campaign_id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}

	lead, err := ownedLead(c, sc.Repos.Leads, leadID)
	if err != nil {
		return respondError(c, sc.Monitor, "load_lead", err)
	}
	campaignID := input.CampaignID
	if campaignID == 0 && lead.CampaignID != nil {
		campaignID = *lead.CampaignID
	}
	if campaignID == 0 {
		return utils.ValidationResponse(c, []string{"campaign_id is required"})
	}
	if _, err := ownedCampaign(c, sc.Repos.Campaigns, campaignID); err != nil {
		return respondError(c, sc.Monitor, "load_campaign", err)
	}

	progress, created, err := sc.Tracker.Initialize(c.UserContext(), leadID, campaignID)
	if err != nil {
		return respondError(c, sc.Monitor, "initialize_sequence", err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(utils.SuccessResponse(fiber.Map{
		"created":  created,
		"progress": progress,
	}))
}

func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	leadID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead ID", nil)
	}

	var input struct {
		Reason string `json:"reason" validate:"max=255"`
	}
	if len(c.Body()) > 0 {
		if ok, err := parseBody(c, &input); !ok {
			return err
		}
	}
	if input.Reason == "" {
		input.Reason = manualPause
	}

	if _, err := ownedLead(c, sc.Repos.Leads, leadID); err != nil {
		return respondError(c, sc.Monitor, "load_lead", err)
	}
	changed, err := sc.Tracker.Pause(c.UserContext(), leadID, input.Reason)
	if err != nil {
		return respondError(c, sc.Monitor, "pause_sequence", err)
	}
	return sc.progressResponse(c, leadID, "paused", changed)
}

func (sc *SequenceController) ResumeSequence(c *fiber.Ctx) error {
	leadID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead ID", nil)
	}
	if _, err := ownedLead(c, sc.Repos.Leads, leadID); err != nil {
		return respondError(c, sc.Monitor, "load_lead", err)
	}
	changed, err := sc.Tracker.Resume(c.UserContext(), leadID)
	if err != nil {
		return respondError(c, sc.Monitor, "resume_sequence", err)
	}
	return sc.progressResponse(c, leadID, "resumed", changed)
}

func (sc *SequenceController) GetProgress(c *fiber.Ctx) error {
	leadID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead ID", nil)
	}
	if _, err := ownedLead(c, sc.Repos.Leads, leadID); err != nil {
		return respondError(c, sc.Monitor, "load_lead", err)
	}
	progress, err := sc.Tracker.Progress(c.UserContext(), leadID)
	if err != nil {
		return respondError(c, sc.Monitor, "load_progress", err)
	}
	return c.JSON(utils.SuccessResponse(progress))
}

func (sc *SequenceController) progressResponse(c *fiber.Ctx, leadID uint, flag string, changed bool) error {
	progress, err := sc.Tracker.Progress(c.UserContext(), leadID)
	if err != nil {
		return respondError(c, sc.Monitor, "load_progress", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		flag:       changed,
		"progress": progress,
	}))
}

// ProcessSequences runs one batch pass over the caller's leads and returns its counters.
func (sc *SequenceController) ProcessSequences(c *fiber.Ctx) error {
	var input struct {
		BatchSize int `json:"batch_size" validate:"min=0,max=500"`
	}
	if len(c.Body()) > 0 {
		if ok, err := parseBody(c, &input); !ok {
			return err
		}
	}
	if input.BatchSize == 0 {
		input.BatchSize = sc.BatchSize
	}

	result, err := sc.Processor.RunForUser(c.UserContext(), currentUser(c).ID, input.BatchSize)
	if err != nil {
		return respondError(c, sc.Monitor, "process_sequences", err)
	}
	return c.JSON(utils.SuccessResponse(result))
}
