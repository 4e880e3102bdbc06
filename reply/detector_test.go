package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/repository/memory"
	"leadpilot/sequence"
)

var testNow = time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

type notified struct {
	userID uint
	event  string
	data   map[string]interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notified
}

func (n *fakeNotifier) Notify(ctx context.Context, userID uint, event string, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notified{userID: userID, event: event, data: data})
}

type fixture struct {
	store    *memory.Store
	repos    repository.Set
	tracker  *sequence.Tracker
	detector *Detector
	notifier *fakeNotifier
	campaign models.Campaign
	lead     models.Lead
	email    models.Email
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return testNow }

	f := &fixture{store: memory.New(), notifier: &fakeNotifier{}}
	f.store.SetClock(clock)
	f.repos = f.store.Set()
	monitor := monitoring.NewNop()

	f.campaign = f.store.AddCampaign(models.Campaign{UserID: 7, Name: "Outreach", Status: models.CampaignStatusActive})
	catalog := sequence.NewCatalog(f.repos.Steps, f.repos.Campaigns, monitor)
	_, err := catalog.CreateSequence(ctx, f.campaign.ID, []sequence.StepInput{
		{StepNumber: 1, DelayDays: 0, Subject: "Hello", Body: "Hi"},
		{StepNumber: 2, DelayDays: 3, Subject: "Following up", Body: "Again"},
	})
	require.NoError(t, err)

	campaignID := f.campaign.ID
	f.lead = f.store.AddLead(models.Lead{UserID: 7, CampaignID: &campaignID, BusinessName: "Acme", Email: "jane@acme.com"})

	f.tracker = sequence.NewTracker(f.repos.Steps, f.repos.Progress, monitor)
	f.tracker.Now = clock
	_, _, err = f.tracker.Initialize(ctx, f.lead.ID, f.campaign.ID)
	require.NoError(t, err)

	f.email = models.Email{
		LeadID:     f.lead.ID,
		CampaignID: f.campaign.ID,
		StepNumber: 1,
		ToEmail:    f.lead.Email,
		Subject:    "Hello",
		Status:     models.EmailStatusQueued,
		MessageID:  "<abc123@leadpilot.local>",
	}
	require.NoError(t, f.repos.Emails.Create(ctx, &f.email))
	f.store.SetEmailSent(f.email.ID, "prov-1", "thread-1")

	f.detector = NewDetector(f.repos, f.tracker, monitor)
	f.detector.Notifier = f.notifier
	f.detector.Now = clock
	return f
}

func TestHandleReplyAppliesEverySideEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.detector.HandleReply(ctx, Event{EmailID: f.email.ID, ReplyText: "Yes, I'm interested. Let's schedule a call."})
	require.NoError(t, err)

	assert.True(t, out.Paused)
	assert.False(t, out.Duplicate)
	assert.Equal(t, SentimentPositive, out.Sentiment)
	assert.Empty(t, out.Errors)

	lead := f.store.Lead(f.lead.ID)
	assert.True(t, lead.HasReplied)
	assert.Equal(t, models.LeadStatusReplied, lead.Status)

	p, err := f.tracker.Progress(ctx, f.lead.ID)
	require.NoError(t, err)
	assert.True(t, p.IsPaused)
	require.NotNil(t, p.PauseReason)
	assert.Equal(t, PauseReason, *p.PauseReason)

	emails := f.store.Emails()
	require.Len(t, emails, 1)
	assert.Equal(t, models.EmailStatusReplied, emails[0].Status)
	assert.Equal(t, SentimentPositive, emails[0].ReplySentiment)

	assert.Equal(t, 1, f.store.Campaign(f.campaign.ID).EmailsReplied)

	events := f.store.AnalyticsEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "email_replied", events[0].EventType)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, uint(7), f.notifier.events[0].userID)
	assert.Equal(t, models.WebhookEventLeadReplied, f.notifier.events[0].event)
}

func TestHandleReplyTwiceCountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.detector.HandleReply(ctx, Event{EmailID: f.email.ID, ReplyText: "sounds good"})
	require.NoError(t, err)
	out, err := f.detector.HandleReply(ctx, Event{EmailID: f.email.ID, ReplyText: "sounds good"})
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.False(t, out.Paused)
	assert.Equal(t, 1, f.store.Campaign(f.campaign.ID).EmailsReplied)
	assert.Len(t, f.store.AnalyticsEvents(), 1)
	assert.Len(t, f.notifier.events, 1)
}

func TestHandleReplyUnknownEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.detector.HandleReply(context.Background(), Event{EmailID: 999})
	assert.ErrorIs(t, err, ErrEmailNotFound)

	_, err = f.detector.HandleReply(context.Background(), Event{})
	assert.ErrorIs(t, err, ErrEmailNotFound)
}

func TestHandleReplyWithoutProgressStillMarksLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaignID := f.campaign.ID
	other := f.store.AddLead(models.Lead{UserID: 7, CampaignID: &campaignID, Email: "bob@example.com"})
	email := models.Email{LeadID: other.ID, CampaignID: campaignID, ToEmail: other.Email, Subject: "Hi", MessageID: "<other@leadpilot.local>"}
	require.NoError(t, f.repos.Emails.Create(ctx, &email))

	out, err := f.detector.HandleReply(ctx, Event{EmailID: email.ID, ReplyText: "ok"})
	require.NoError(t, err)
	assert.False(t, out.Paused)
	assert.True(t, f.store.Lead(other.ID).HasReplied)
}

func TestHandleReplyCollectsFailures(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("db down")
	f.store.FailOn("leads.mark_replied", boom)
	f.store.FailOn("campaigns.increment", boom)

	out, err := f.detector.HandleReply(context.Background(), Event{EmailID: f.email.ID, ReplyText: "not interested"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// Independent steps still ran
	assert.True(t, out.Paused)
	assert.Equal(t, SentimentNegative, out.Sentiment)
	assert.Len(t, f.store.AnalyticsEvents(), 1)
	require.Len(t, out.Errors, 2)
	assert.True(t, strings.HasPrefix(out.Errors[0], "mark_lead"))
	assert.True(t, strings.HasPrefix(out.Errors[1], "increment_replies"))
}

func TestMatchEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		ids    []string
		thread string
		found  bool
	}{
		{name: "provider id", ids: []string{"prov-1"}, found: true},
		{name: "bracketed message id", ids: []string{"<abc123@leadpilot.local>"}, found: true},
		{name: "bare message id", ids: []string{"abc123@leadpilot.local"}, found: true},
		{name: "thread fallback", ids: []string{"unknown"}, thread: "thread-1", found: true},
		{name: "skips blanks", ids: []string{"", "  "}, found: false},
		{name: "nothing matches", ids: []string{"nope"}, thread: "other", found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, err := f.detector.MatchEmail(ctx, tt.ids, tt.thread)
			if !tt.found {
				assert.ErrorIs(t, err, ErrEmailNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, f.email.ID, email.ID)
		})
	}
}
