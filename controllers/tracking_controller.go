package controller

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/utils"
)

// TrackingController records email opens from the pixel embedded by the mailer.
// Every request gets the pixel back so mail clients never show a broken image.
type TrackingController struct {
	Repos   repository.Set
	Tracker *utils.OpenTracker
	Monitor *monitoring.Monitor
	Now     func() time.Time
}

func NewTrackingController(repos repository.Set, tracker *utils.OpenTracker, monitor *monitoring.Monitor) *TrackingController {
	return &TrackingController{
		Repos:   repos,
		Tracker: tracker,
		Monitor: monitor,
		Now:     time.Now,
	}
}

func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err == nil && tc.Tracker.Verify(uint(id), c.Params("token")) {
		tc.recordOpen(c, uint(id))
	} else {
		tc.Monitor.Incr("tracking.invalid_token", 1)
	}

	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	return c.Send(utils.TransparentGIF)
}

func (tc *TrackingController) recordOpen(c *fiber.Ctx, emailID uint) {
	ctx := c.UserContext()
	email, err := tc.Repos.Emails.FindByID(ctx, emailID)
	if err != nil {
		tc.Monitor.LogError("track_open_lookup", err, map[string]interface{}{"email_id": emailID})
		return
	}

	now := tc.Now()
	open := &models.EmailOpen{
		EmailID:    email.ID,
		LeadID:     email.LeadID,
		CampaignID: email.CampaignID,
		OpenedAt:   now,
	}
	if err := tc.Repos.Analytics.RecordOpen(ctx, open); err != nil {
		tc.Monitor.LogError("track_open_record", err, map[string]interface{}{"email_id": emailID})
		return
	}
	if err := tc.Repos.Analytics.Record(ctx, &models.AnalyticsEvent{
		CampaignID: email.CampaignID,
		LeadID:     email.LeadID,
		EmailID:    utils.Pointer(email.ID),
		EventType:  "email_opened",
		Metadata:   map[string]interface{}{"user_agent": c.Get(fiber.HeaderUserAgent)},
		OccurredAt: now,
	}); err != nil {
		tc.Monitor.LogError("track_open_analytics", err, map[string]interface{}{"email_id": emailID})
	}
	tc.Monitor.Incr("emails_opened", 1)
}
