package controller

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/queue"
	"leadpilot/repository"
	"leadpilot/utils"
)

type QueueController struct {
	Repos   repository.Set
	Queue   *queue.Service
	Monitor *monitoring.Monitor
}

func NewQueueController(repos repository.Set, svc *queue.Service, monitor *monitoring.Monitor) *QueueController {
	return &QueueController{Repos: repos, Queue: svc, Monitor: monitor}
}

// AddToQueue snapshots the posted leads into the campaign queue. Leads owned
// by another user are reported as missing.
func (qc *QueueController) AddToQueue(c *fiber.Ctx) error {
	campaignID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign ID", nil)
	}

	var input struct {
		LeadIDs []uint `json:"lead_ids" validate:"required,min=1,max=1000"`
	}
	if ok, err := parseBody(c, &input); !ok {
		return err
	}
	if _, err := ownedCampaign(c, qc.Repos.Campaigns, campaignID); err != nil {
		return respondError(c, qc.Monitor, "load_campaign", err)
	}

	leads, err := qc.Repos.Leads.FindByIDs(c.UserContext(), input.LeadIDs)
	if err != nil {
		return respondError(c, qc.Monitor, "load_leads", err)
	}
	user := currentUser(c)
	owned := make(map[uint]bool, len(leads))
	for _, l := range leads {
		if l.UserID == user.ID {
			owned[l.ID] = true
		}
	}
	var allowed, foreign []uint
	for _, id := range input.LeadIDs {
		if owned[id] {
			allowed = append(allowed, id)
		} else {
			foreign = append(foreign, id)
		}
	}

	result := queue.AddResult{Missing: []uint{}, Errors: []string{}, Entries: []models.QueuedLead{}}
	if len(allowed) > 0 {
		result, err = qc.Queue.AddLeads(c.UserContext(), campaignID, allowed)
		if err != nil {
			return respondError(c, qc.Monitor, "add_to_queue", err)
		}
	}
	result.Missing = append(result.Missing, foreign...)

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(result))
}

func (qc *QueueController) NextBatch(c *fiber.Ctx) error {
	campaignID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign ID", nil)
	}
	limit := c.QueryInt("limit", queue.DefaultBatchLimit)
	if limit < 1 || limit > 500 {
		return utils.ValidationResponse(c, []string{"limit must be between 1 and 500"})
	}
	if _, err := ownedCampaign(c, qc.Repos.Campaigns, campaignID); err != nil {
		return respondError(c, qc.Monitor, "load_campaign", err)
	}

	batch, err := qc.Queue.NextBatch(c.UserContext(), &campaignID, limit)
	if err != nil {
		return respondError(c, qc.Monitor, "load_queue", err)
	}
	return c.JSON(utils.SuccessResponse(batch))
}

// PromoteQueue moves pending rows of the campaign to ready.
func (qc *QueueController) PromoteQueue(c *fiber.Ctx) error {
	campaignID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign ID", nil)
	}
	var input struct {
		Limit int `json:"limit" validate:"min=0,max=1000"`
	}
	if len(c.Body()) > 0 {
		if ok, err := parseBody(c, &input); !ok {
			return err
		}
	}
	if input.Limit == 0 {
		input.Limit = queue.DefaultBatchLimit
	}
	if _, err := ownedCampaign(c, qc.Repos.Campaigns, campaignID); err != nil {
		return respondError(c, qc.Monitor, "load_campaign", err)
	}

	promoted, err := qc.Queue.PromoteReady(c.UserContext(), &campaignID, input.Limit)
	if err != nil {
		return respondError(c, qc.Monitor, "promote_queue", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"promoted": promoted}))
}

func (qc *QueueController) ownedItem(c *fiber.Ctx) (uint, error) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return 0, err
	}
	item, err := qc.Repos.Queue.FindByID(c.UserContext(), id)
	if err != nil {
		return 0, err
	}
	if _, err := ownedCampaign(c, qc.Repos.Campaigns, item.CampaignID); err != nil {
		return 0, err
	}
	return id, nil
}

func (qc *QueueController) UpdateQueueStatus(c *fiber.Ctx) error {
	var input struct {
		QueueStatus string `json:"queue_status" validate:"required,oneof=pending ready processing sent failed skipped"`
		LastError   string `json:"last_error" validate:"max=1000"`
	}
	if ok, err := parseBody(c, &input); !ok {
		return err
	}

	id, err := qc.ownedItem(c)
	if err != nil {
		return qc.itemError(c, err)
	}
	item, err := qc.Queue.UpdateStatus(c.UserContext(), id, input.QueueStatus, input.LastError)
	if err != nil {
		return respondError(c, qc.Monitor, "update_queue_item", err)
	}
	return c.JSON(utils.SuccessResponse(item))
}

func (qc *QueueController) RemoveFromQueue(c *fiber.Ctx) error {
	id, err := qc.ownedItem(c)
	if err != nil {
		return qc.itemError(c, err)
	}
	if err := qc.Queue.Remove(c.UserContext(), id); err != nil {
		return respondError(c, qc.Monitor, "remove_queue_item", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"removed": id}))
}

func (qc *QueueController) ScheduleQueueItem(c *fiber.Ctx) error {
	var input struct {
		ScheduledFor time.Time `json:"scheduled_for"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if input.ScheduledFor.IsZero() {
		return utils.ValidationResponse(c, []string{"scheduled_for is required"})
	}

	id, err := qc.ownedItem(c)
	if err != nil {
		return qc.itemError(c, err)
	}
	item, err := qc.Queue.Schedule(c.UserContext(), id, input.ScheduledFor)
	if err != nil {
		return respondError(c, qc.Monitor, "schedule_queue_item", err)
	}
	return c.JSON(utils.SuccessResponse(item))
}

// GetQueueStats reports one campaign when campaign_id is given, else every
// campaign of the caller.
func (qc *QueueController) GetQueueStats(c *fiber.Ctx) error {
	if raw := c.Query("campaign_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return utils.ValidationResponse(c, []string{"campaign_id must be a positive integer"})
		}
		cid := uint(id)
		if _, err := ownedCampaign(c, qc.Repos.Campaigns, cid); err != nil {
			return respondError(c, qc.Monitor, "load_campaign", err)
		}
		stats, err := qc.Queue.Stats(c.UserContext(), &cid)
		if err != nil {
			return respondError(c, qc.Monitor, "queue_stats", err)
		}
		return c.JSON(utils.SuccessResponse(stats))
	}

	stats, err := qc.Queue.UserStats(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return respondError(c, qc.Monitor, "queue_stats", err)
	}
	return c.JSON(utils.SuccessResponse(stats))
}

func (qc *QueueController) itemError(c *fiber.Ctx, err error) error {
	if _, perr := utils.ParamID(c, "id"); perr != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid queue item ID", nil)
	}
	if err == repository.ErrNotFound {
		err = queue.ErrQueueItemNotFound
	}
	return respondError(c, qc.Monitor, "load_queue_item", err)
}
