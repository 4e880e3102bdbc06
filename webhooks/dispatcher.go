// Package webhooks delivers domain events to user-configured endpoints.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
)

const (
	DefaultTimeout = 10 * time.Second
	userAgent      = "leadpilot-webhooks/1.0"
)

// Payload is the JSON body posted to every webhook.
type Payload struct {
	Event     string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Result is the outcome of one delivery.
type Result struct {
	WebhookID  uint   `json:"webhook_id"`
	DeliveryID string `json:"delivery_id"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (r Result) OK() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Dispatcher posts events once per subscribed webhook. Failed deliveries are
// logged and counted but never retried.
type Dispatcher struct {
	repo    repository.WebhookRepository
	client  *fasthttp.Client
	monitor *monitoring.Monitor

	Timeout time.Duration
	Now     func() time.Time
}

func NewDispatcher(repo repository.WebhookRepository, monitor *monitoring.Monitor) *Dispatcher {
	return &Dispatcher{
		repo: repo,
		client: &fasthttp.Client{
			Name:                userAgent,
			MaxConnsPerHost:     16,
			ReadTimeout:         DefaultTimeout,
			WriteTimeout:        DefaultTimeout,
			MaxIdleConnDuration: time.Minute,
		},
		monitor: monitor,
		Timeout: DefaultTimeout,
		Now:     time.Now,
	}
}

// Notify satisfies sequence.Notifier. Delivery failures are already recorded.
func (d *Dispatcher) Notify(ctx context.Context, userID uint, event string, data map[string]interface{}) {
	if _, err := d.Dispatch(ctx, userID, event, data); err != nil {
		d.monitor.LogError("webhook_dispatch", err, map[string]interface{}{
			"user_id": userID,
			"event":   event,
		})
	}
}

// Dispatch delivers event to every active webhook of the user that subscribes to it.
func (d *Dispatcher) Dispatch(ctx context.Context, userID uint, event string, data map[string]interface{}) ([]Result, error) {
	hooks, err := d.repo.ListActiveForEvent(ctx, userID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	if len(hooks) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(Payload{Event: event, Timestamp: d.Now().UTC(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	results := make([]Result, len(hooks))
	var wg sync.WaitGroup
	for i := range hooks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.deliver(ctx, &hooks[i], event, body)
		}(i)
	}
	wg.Wait()
	return results, nil
}

// Test sends a webhook.test event to one webhook regardless of its subscriptions.
func (d *Dispatcher) Test(ctx context.Context, hook *models.Webhook) (Result, error) {
	body, err := json.Marshal(Payload{
		Event:     models.WebhookEventTest,
		Timestamp: d.Now().UTC(),
		Data:      map[string]interface{}{"webhook_id": hook.ID, "message": "Test delivery"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	return d.deliver(ctx, hook, models.WebhookEventTest, body), nil
}

func (d *Dispatcher) deliver(ctx context.Context, hook *models.Webhook, event string, body []byte) Result {
	res := Result{WebhookID: hook.ID, DeliveryID: uuid.NewString()}
	start := d.Now()

	status, err := d.post(ctx, hook, event, res.DeliveryID, body)
	res.StatusCode = status
	res.DurationMs = d.Now().Sub(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
	} else if !res.OK() {
		res.Error = fmt.Sprintf("unexpected status %d", status)
	}

	delivery := &models.WebhookDelivery{
		WebhookID:  hook.ID,
		DeliveryID: res.DeliveryID,
		Event:      event,
		StatusCode: res.StatusCode,
		Error:      res.Error,
		DurationMs: res.DurationMs,
		SentAt:     start,
	}
	if err := d.repo.RecordDelivery(ctx, delivery); err != nil {
		d.monitor.LogError("webhook_delivery_log", err, map[string]interface{}{"webhook_id": hook.ID})
	}
	if err := d.repo.MarkTriggered(ctx, hook.ID, res.StatusCode, start, !res.OK()); err != nil {
		d.monitor.LogError("webhook_mark_triggered", err, map[string]interface{}{"webhook_id": hook.ID})
	}

	if res.OK() {
		d.monitor.Incr("webhooks.delivered", 1)
	} else {
		d.monitor.Incr("webhooks.failed", 1)
		d.monitor.LogEvent("webhook_failed", map[string]interface{}{
			"webhook_id":  hook.ID,
			"event":       event,
			"status_code": res.StatusCode,
			"error":       res.Error,
		})
	}
	return res
}

func (d *Dispatcher) post(ctx context.Context, hook *models.Webhook, event, deliveryID string, body []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(hook.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	if hook.Secret != "" {
		req.Header.Set("X-Webhook-Secret", hook.Secret)
	}
	req.SetBody(body)

	timeout := d.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := d.client.DoTimeout(req, resp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return 0, fmt.Errorf("webhook timed out after %s", timeout)
		}
		return 0, err
	}
	return resp.StatusCode(), nil
}
