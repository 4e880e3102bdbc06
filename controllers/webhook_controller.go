package controller

import (
	"github.com/gofiber/fiber/v2"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/utils"
	"leadpilot/webhooks"
)

type WebhookController struct {
	Repos      repository.Set
	Dispatcher *webhooks.Dispatcher
	Monitor    *monitoring.Monitor
}

func NewWebhookController(repos repository.Set, dispatcher *webhooks.Dispatcher, monitor *monitoring.Monitor) *WebhookController {
	return &WebhookController{Repos: repos, Dispatcher: dispatcher, Monitor: monitor}
}

func (wc *WebhookController) CreateWebhook(c *fiber.Ctx) error {
	var input struct {
		URL    string   `json:"url" validate:"required,url,max=2048"`
		Secret string   `json:"secret" validate:"max=255"`
		Events []string `json:"events" validate:"max=10,dive,oneof=lead.replied sequence.completed email.queued *"`
	}
	if ok, err := parseBody(c, &input); !ok {
		return err
	}

	hook := &models.Webhook{
		UserID:   currentUser(c).ID,
		URL:      input.URL,
		Secret:   input.Secret,
		Events:   input.Events,
		IsActive: true,
	}
	if err := wc.Repos.Webhooks.Create(c.UserContext(), hook); err != nil {
		return respondError(c, wc.Monitor, "create_webhook", err)
	}
	wc.Monitor.LogEvent("webhook_created", map[string]interface{}{
		"webhook_id": hook.ID,
		"user_id":    hook.UserID,
	})
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(hook))
}

func (wc *WebhookController) GetWebhooks(c *fiber.Ctx) error {
	hooks, err := wc.Repos.Webhooks.ListByUser(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return respondError(c, wc.Monitor, "list_webhooks", err)
	}
	if hooks == nil {
		hooks = []models.Webhook{}
	}
	return c.JSON(utils.SuccessResponse(hooks))
}

func (wc *WebhookController) DeleteWebhook(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook ID", nil)
	}
	if err := wc.Repos.Webhooks.Delete(c.UserContext(), currentUser(c).ID, id); err != nil {
		return respondError(c, wc.Monitor, "delete_webhook", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": id}))
}

// TestWebhook sends a webhook.test event to one endpoint and reports the outcome.
func (wc *WebhookController) TestWebhook(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook ID", nil)
	}
	hook, err := wc.Repos.Webhooks.FindByID(c.UserContext(), currentUser(c).ID, id)
	if err != nil {
		return respondError(c, wc.Monitor, "load_webhook", err)
	}

	result, err := wc.Dispatcher.Test(c.UserContext(), hook)
	if err != nil {
		return respondError(c, wc.Monitor, "test_webhook", err)
	}
	return c.JSON(fiber.Map{
		"success": result.OK(),
		"data":    result,
	})
}
