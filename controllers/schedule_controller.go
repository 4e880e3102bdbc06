package controller

import (
	"math/rand"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/schedule"
	"leadpilot/utils"
)

type ScheduleController struct {
	Repos   repository.Set
	Monitor *monitoring.Monitor
	Now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewScheduleController(repos repository.Set, monitor *monitoring.Monitor) *ScheduleController {
	return &ScheduleController{
		Repos:   repos,
		Monitor: monitor,
		Now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (sc *ScheduleController) DetectTimezone(c *fiber.Ctx) error {
	var input struct {
		Address string `json:"address" validate:"notblank,max=500"`
	}
	if ok, err := parseBody(c, &input); !ok {
		return err
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"address":  input.Address,
		"timezone": schedule.DetectTimezone(input.Address),
	}))
}

// CheckWindow reports whether an instant (default now) falls inside a sending
// window and when the next send may happen.
func (sc *ScheduleController) CheckWindow(c *fiber.Ctx) error {
	var input struct {
		schedule.SendingWindow
		At *time.Time `json:"at"`
	}
	input.SendingWindow = schedule.DefaultWindow()
	if len(c.Body()) > 0 {
		if ok, err := parseBody(c, &input); !ok {
			return err
		}
	}
	w := input.SendingWindow
	if w.EndHour <= w.StartHour {
		return utils.ValidationResponse(c, []string{"end_hour must be after start_hour"})
	}
	if w.Timezone == "" {
		w.Timezone = schedule.DefaultTimezone
	}

	at := sc.Now()
	if input.At != nil {
		at = *input.At
	}
	loc := schedule.LoadLocation(w.Timezone)
	next := schedule.NextSendTime(w, w.Timezone, at)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"window":         w,
		"checked_at":     at.In(loc),
		"within_window":  schedule.IsWithinSendingWindow(w, w.Timezone, at),
		"next_send_time": next.In(loc),
	}))
}

// OptimalSendTime suggests a send hour from the campaign's recorded opens.
func (sc *ScheduleController) OptimalSendTime(c *fiber.Ctx) error {
	campaignID, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign ID", nil)
	}
	campaign, err := ownedCampaign(c, sc.Repos.Campaigns, campaignID)
	if err != nil {
		return respondError(c, sc.Monitor, "load_campaign", err)
	}

	opens, err := sc.Repos.Analytics.OpenTimes(c.UserContext(), campaignID)
	if err != nil {
		return respondError(c, sc.Monitor, "load_open_times", err)
	}
	tz := campaign.Timezone
	if tz == "" {
		tz = schedule.DefaultTimezone
	}
	hourly := schedule.OpensByHour(opens, tz)

	sc.mu.Lock()
	best := schedule.CalculateOptimalSendTime(hourly, sc.rng)
	sc.mu.Unlock()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id":  campaignID,
		"timezone":     tz,
		"optimal":      best,
		"hourly_opens": hourly,
	}))
}
