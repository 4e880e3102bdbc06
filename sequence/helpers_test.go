package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/repository/memory"
)

// Wednesday 10:00 in New York
var testNow = time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	repos    repository.Set
	catalog  *Catalog
	tracker  *Tracker
	campaign models.Campaign
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), now: testNow}
	f.store.SetClock(f.clock)
	f.repos = f.store.Set()

	monitor := monitoring.NewNop()
	f.catalog = NewCatalog(f.repos.Steps, f.repos.Campaigns, monitor)
	f.tracker = NewTracker(f.repos.Steps, f.repos.Progress, monitor)
	f.tracker.Now = f.clock
	f.campaign = f.store.AddCampaign(models.Campaign{UserID: 1, Name: "Spring outreach", Status: models.CampaignStatusActive})
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) steps(t *testing.T, delays ...int) {
	t.Helper()
	inputs := make([]StepInput, len(delays))
	for i, d := range delays {
		inputs[i] = StepInput{
			StepNumber: i + 1,
			DelayDays:  d,
			Subject:    "Quick question for {{business_name}}",
			Body:       "Hi {{first_name}}, re {{business_name}}",
		}
	}
	_, err := f.catalog.CreateSequence(context.Background(), f.campaign.ID, inputs)
	require.NoError(t, err)
}

func (f *fixture) lead(name, email string) models.Lead {
	campaignID := f.campaign.ID
	return f.store.AddLead(models.Lead{
		UserID:            1,
		CampaignID:        &campaignID,
		BusinessName:      name,
		Email:             email,
		DecisionMakerName: "Jane Doe",
		Address:           "1 Main St, New York, NY 10001",
	})
}

type recordedEvent struct {
	userID uint
	event  string
	data   map[string]interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *fakeNotifier) Notify(ctx context.Context, userID uint, event string, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{userID: userID, event: event, data: data})
}

func (n *fakeNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.event)
	}
	return out
}

type fakeObserver struct {
	events []ProgressEvent
}

func (o *fakeObserver) Publish(e ProgressEvent) { o.events = append(o.events, e) }

type countingThrottle struct {
	calls int
	err   error
}

func (c *countingThrottle) Wait(ctx context.Context) error {
	c.calls++
	return c.err
}
