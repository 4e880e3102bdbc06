package controller

import (
	"sync"

	"github.com/gofiber/websocket/v2"

	"leadpilot/monitoring"
	"leadpilot/sequence"
)

const subscriberBuffer = 64

// ProgressHub fans batch pass events out to websocket subscribers. Each
// subscriber only sees events of its own user. Slow subscribers drop events
// rather than stall the pass.
type ProgressHub struct {
	mu      sync.Mutex
	subs    map[chan sequence.ProgressEvent]uint
	monitor *monitoring.Monitor
}

func NewProgressHub(monitor *monitoring.Monitor) *ProgressHub {
	return &ProgressHub{
		subs:    make(map[chan sequence.ProgressEvent]uint),
		monitor: monitor,
	}
}

func (h *ProgressHub) Publish(event sequence.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch, userID := range h.subs {
		if event.UserID == 0 || event.UserID != userID {
			continue
		}
		select {
		case ch <- event:
		default:
			h.monitor.Incr("progress_ws.dropped", 1)
		}
	}
}

func (h *ProgressHub) Subscribe(userID uint) (<-chan sequence.ProgressEvent, func()) {
	ch := make(chan sequence.ProgressEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = userID
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *ProgressHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// HandleProgressWS streams the caller's events until the client disconnects.
func (h *ProgressHub) HandleProgressWS(c *websocket.Conn) {
	defer c.Close()

	userID, ok := c.Locals("userID").(uint)
	if !ok || userID == 0 {
		return
	}
	events, unsubscribe := h.Subscribe(userID)
	defer unsubscribe()

	// The read loop only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event := <-events:
			if err := c.WriteJSON(event); err != nil {
				h.monitor.LogError("progress_ws_write", err, nil)
				return
			}
		}
	}
}
