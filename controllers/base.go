package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/queue"
	"leadpilot/reply"
	"leadpilot/repository"
	"leadpilot/sequence"
	"leadpilot/utils"
)

var errNotOwned = repository.ErrNotFound

func currentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals("user").(*models.User)
	return user
}

func ownedCampaign(c *fiber.Ctx, campaigns repository.CampaignRepository, id uint) (*models.Campaign, error) {
	campaign, err := campaigns.FindByID(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if user := currentUser(c); user == nil || campaign.UserID != user.ID {
		return nil, errNotOwned
	}
	return campaign, nil
}

func ownedLead(c *fiber.Ctx, leads repository.LeadRepository, id uint) (*models.Lead, error) {
	lead, err := leads.FindByID(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if user := currentUser(c); user == nil || lead.UserID != user.ID {
		return nil, errNotOwned
	}
	return lead, nil
}

// parseBody decodes and validates a request body, writing the 400 itself.
// It returns false when the handler should stop.
func parseBody(c *fiber.Ctx, out interface{}) (bool, error) {
	if err := c.BodyParser(out); err != nil {
		return false, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if messages := utils.ValidationMessages(out); len(messages) > 0 {
		return false, utils.ValidationResponse(c, messages)
	}
	return true, nil
}

// respondError maps domain errors onto HTTP statuses. Anything unrecognised
// is logged and reported as a 500.
func respondError(c *fiber.Ctx, monitor *monitoring.Monitor, action string, err error) error {
	var verr *sequence.ValidationError
	switch {
	case errors.As(err, &verr):
		return utils.ValidationResponse(c, verr.Errors)
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, sequence.ErrCampaignNotFound),
		errors.Is(err, sequence.ErrLeadNotFound),
		errors.Is(err, sequence.ErrProgressNotFound),
		errors.Is(err, sequence.ErrStepNotFound),
		errors.Is(err, queue.ErrQueueItemNotFound),
		errors.Is(err, queue.ErrCampaignNotFound),
		errors.Is(err, reply.ErrEmailNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, notFoundMessage(err), nil)
	case errors.Is(err, sequence.ErrNoActiveSteps):
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Campaign has no active sequence steps", nil)
	case errors.Is(err, sequence.ErrLeadLocked):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is being processed", nil)
	case errors.Is(err, queue.ErrInvalidStatus):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid queue status", err)
	}

	monitor.LogError(action, err, map[string]interface{}{
		"path":   c.Path(),
		"method": c.Method(),
	})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to "+humanize(action), nil)
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, sequence.ErrProgressNotFound):
		return "Lead has no sequence progress"
	case errors.Is(err, queue.ErrQueueItemNotFound):
		return "Queue item not found"
	case errors.Is(err, reply.ErrEmailNotFound):
		return "Email not found"
	case errors.Is(err, sequence.ErrLeadNotFound):
		return "Lead not found"
	default:
		return "Not found"
	}
}

func humanize(action string) string {
	out := []rune(action)
	for i, r := range out {
		if r == '_' {
			out[i] = ' '
		}
	}
	return string(out)
}
