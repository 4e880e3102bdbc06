package worker

import (
	"context"
	"time"

	"leadpilot/monitoring"
	"leadpilot/reply"
)

const DefaultPollInterval = 5 * time.Minute

// InboxSource yields unread inbound messages. Messages stay unread until
// MarkSeen acknowledges them.
type InboxSource interface {
	FetchUnseen(ctx context.Context) ([]reply.InboundMessage, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

// PollResult counts what one poll did.
type PollResult struct {
	Fetched   int `json:"fetched"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Failed    int `json:"failed"`
}

// ReplyPoller reads the reply inbox and feeds matches to the detector.
type ReplyPoller struct {
	source   InboxSource
	detector *reply.Detector
	monitor  *monitoring.Monitor

	Interval time.Duration
}

func NewReplyPoller(source InboxSource, detector *reply.Detector, monitor *monitoring.Monitor) *ReplyPoller {
	return &ReplyPoller{
		source:   source,
		detector: detector,
		monitor:  monitor,
		Interval: DefaultPollInterval,
	}
}

func (p *ReplyPoller) Start(ctx context.Context) {
	p.monitor.Logger.Info("Reply poller started")
	run(ctx, p.Interval, func() { p.RunOnce(ctx) })
	p.monitor.Logger.Info("Reply poller shutting down")
}

// RunOnce processes whatever the source returned even when the fetch
// reported partial errors. Only messages the detector handled are marked
// seen, so a failed message is retried on the next poll.
func (p *ReplyPoller) RunOnce(ctx context.Context) PollResult {
	var result PollResult
	messages, err := p.source.FetchUnseen(ctx)
	if err != nil {
		p.monitor.LogError("reply_poll", err, nil)
	}
	result.Fetched = len(messages)

	var handled []uint32
	for _, msg := range messages {
		_, matched, err := p.detector.HandleInbound(ctx, msg)
		switch {
		case err != nil:
			result.Failed++
			p.monitor.LogError("reply_inbound", err, map[string]interface{}{"message_id": msg.MessageID})
			continue
		case matched:
			result.Matched++
		default:
			result.Unmatched++
		}
		handled = append(handled, msg.UID)
	}
	if err := p.source.MarkSeen(ctx, handled); err != nil {
		p.monitor.LogError("reply_mark_seen", err, map[string]interface{}{"count": len(handled)})
	}

	if result.Fetched > 0 {
		p.monitor.LogEvent("reply_poll_completed", map[string]interface{}{
			"fetched":   result.Fetched,
			"matched":   result.Matched,
			"unmatched": result.Unmatched,
			"failed":    result.Failed,
		})
	}
	return result
}
