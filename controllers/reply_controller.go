package controller

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadpilot/monitoring"
	"leadpilot/reply"
	"leadpilot/repository"
	"leadpilot/utils"
)

type ReplyController struct {
	Repos    repository.Set
	Detector *reply.Detector
	Monitor  *monitoring.Monitor
}

func NewReplyController(repos repository.Set, detector *reply.Detector, monitor *monitoring.Monitor) *ReplyController {
	return &ReplyController{Repos: repos, Detector: detector, Monitor: monitor}
}

// RecordReply applies a reply reported directly by a client.
func (rc *ReplyController) RecordReply(c *fiber.Ctx) error {
	var input struct {
		EmailID   uint       `json:"email_id" validate:"required"`
		ReplyText string     `json:"reply_text" validate:"max=50000"`
		Sentiment string     `json:"sentiment" validate:"omitempty,oneof=positive negative neutral"`
		Timestamp *time.Time `json:"timestamp"`
	}
	if ok, err := parseBody(c, &input); !ok {
		return err
	}

	email, err := rc.Repos.Emails.FindByID(c.UserContext(), input.EmailID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = reply.ErrEmailNotFound
		}
		return respondError(c, rc.Monitor, "load_email", err)
	}
	if _, err := ownedCampaign(c, rc.Repos.Campaigns, email.CampaignID); err != nil {
		return respondError(c, rc.Monitor, "load_email", reply.ErrEmailNotFound)
	}

	ev := reply.Event{
		EmailID:    email.ID,
		LeadID:     email.LeadID,
		CampaignID: email.CampaignID,
		ReplyText:  input.ReplyText,
		Sentiment:  input.Sentiment,
	}
	if input.Timestamp != nil {
		ev.Timestamp = *input.Timestamp
	}
	out, err := rc.Detector.HandleReply(c.UserContext(), ev)
	return rc.respond(c, out, err)
}

func (rc *ReplyController) respond(c *fiber.Ctx, out reply.Outcome, err error) error {
	if err == nil {
		return c.JSON(utils.SuccessResponse(out))
	}
	if out.EmailID == 0 {
		return respondError(c, rc.Monitor, "handle_reply", err)
	}
	// Some side effects were applied; report which ones failed.
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "Reply processed with errors",
		"data":    out,
	})
}

// UnipileWebhook accepts message events from the messaging provider. Events
// that are not inbound replies are acknowledged and ignored.
func (rc *ReplyController) UnipileWebhook(c *fiber.Ctx) error {
	var payload reply.UnipilePayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	result, err := rc.Detector.HandleUnipile(c.UserContext(), payload)
	if err != nil {
		rc.Monitor.LogError("unipile_webhook", err, map[string]interface{}{
			"event":      payload.Event,
			"message_id": payload.MessageID,
		})
		if !result.Matched {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process webhook", nil)
		}
	}
	return c.JSON(utils.SuccessResponse(result))
}
