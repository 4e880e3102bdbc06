package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"leadpilot/lock"
	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/reply"
	"leadpilot/repository"
	"leadpilot/repository/memory"
	"leadpilot/sequence"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type env struct {
	store     *memory.Store
	repos     repository.Set
	monitor   *monitoring.Monitor
	tracker   *sequence.Tracker
	processor *sequence.Processor
	campaign  models.Campaign
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: memory.New(), monitor: monitoring.NewNop()}
	e.store.SetClock(clock)
	e.repos = e.store.Set()
	e.campaign = e.store.AddCampaign(models.Campaign{UserID: 1, Name: "Outreach", Status: models.CampaignStatusActive})

	catalog := sequence.NewCatalog(e.repos.Steps, e.repos.Campaigns, e.monitor)
	_, err := catalog.CreateSequence(context.Background(), e.campaign.ID, []sequence.StepInput{
		{StepNumber: 1, DelayDays: 0, Subject: "Hello {{business_name}}", Body: "Hi {{first_name}}"},
		{StepNumber: 2, DelayDays: 3, Subject: "Following up", Body: "Checking in"},
	})
	require.NoError(t, err)

	e.tracker = sequence.NewTracker(e.repos.Steps, e.repos.Progress, e.monitor)
	e.tracker.Now = clock
	e.processor = sequence.NewProcessor(e.repos, catalog, e.tracker, lock.NewLocalLocker(), sequence.NoThrottle, e.monitor)
	e.processor.Now = clock
	return e
}

func (e *env) enroll(t *testing.T, name, email string) models.Lead {
	t.Helper()
	campaignID := e.campaign.ID
	lead := e.store.AddLead(models.Lead{UserID: 1, CampaignID: &campaignID, BusinessName: name, Email: email, DecisionMakerName: "Jane Doe"})
	_, _, err := e.tracker.Initialize(context.Background(), lead.ID, e.campaign.ID)
	require.NoError(t, err)
	return lead
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[string]error
	sent []string
}

func (s *fakeSender) Send(ctx context.Context, email *models.Email) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[email.ToEmail]; err != nil {
		return "", err
	}
	s.sent = append(s.sent, email.ToEmail)
	return email.MessageID, nil
}

func TestSequenceThenDispatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.enroll(t, "Acme", "jane@acme.com")

	pass := NewSequenceWorker(e.processor, e.monitor).RunOnce(ctx)
	assert.Equal(t, 1, pass.Processed)
	assert.Equal(t, 1, pass.Succeeded)

	sender := &fakeSender{}
	dispatch := NewDispatchWorker(e.repos, sender, nil, e.monitor)
	dispatch.Now = clock
	res, err := dispatch.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Sent: 1}, res)
	assert.Equal(t, []string{"jane@acme.com"}, sender.sent)

	emails := e.store.Emails()
	require.Len(t, emails, 1)
	assert.Equal(t, models.EmailStatusSent, emails[0].Status)
	assert.Equal(t, emails[0].MessageID, emails[0].ProviderMessageID)
	require.NotNil(t, emails[0].SentAt)
	assert.Equal(t, 1, e.store.Campaign(e.campaign.ID).EmailsSent)

	// Nothing left to send
	res, err = dispatch.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{}, res)
}

func TestDispatchFailsAndCancels(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.enroll(t, "Acme", "jane@acme.com")
	replied := e.enroll(t, "Globex", "bob@globex.com")
	e.enroll(t, "Initech", "peter@initech.com")

	NewSequenceWorker(e.processor, e.monitor).RunOnce(ctx)
	require.NoError(t, e.repos.Leads.MarkReplied(ctx, replied.ID, testNow))

	sender := &fakeSender{fail: map[string]error{"peter@initech.com": errors.New("550 mailbox unavailable")}}
	res, err := NewDispatchWorker(e.repos, sender, nil, e.monitor).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Sent: 1, Failed: 1, Cancelled: 1}, res)

	byTo := map[string]models.Email{}
	for _, em := range e.store.Emails() {
		byTo[em.ToEmail] = em
	}
	assert.Equal(t, models.EmailStatusSent, byTo["jane@acme.com"].Status)
	assert.Equal(t, models.EmailStatusCancelled, byTo["bob@globex.com"].Status)
	assert.Equal(t, models.EmailStatusFailed, byTo["peter@initech.com"].Status)
	assert.Contains(t, byTo["peter@initech.com"].ErrorMessage, "mailbox unavailable")
	assert.Equal(t, 1, e.store.Campaign(e.campaign.ID).EmailsSent)
}

type fakeSource struct {
	messages []reply.InboundMessage
	err      error
	seen     []uint32
}

func (s *fakeSource) FetchUnseen(ctx context.Context) ([]reply.InboundMessage, error) {
	return s.messages, s.err
}

func (s *fakeSource) MarkSeen(ctx context.Context, uids []uint32) error {
	s.seen = append(s.seen, uids...)
	return nil
}

// failingEmails errors on lookups of one provider message id.
type failingEmails struct {
	repository.EmailRepository
	id string
}

func (f failingEmails) FindByProviderMessageID(ctx context.Context, id string) (*models.Email, error) {
	if strings.Trim(id, "<>") == strings.Trim(f.id, "<>") {
		return nil, errors.New("connection reset")
	}
	return f.EmailRepository.FindByProviderMessageID(ctx, id)
}

func TestReplyPollerRunOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := e.enroll(t, "Acme", "jane@acme.com")
	NewSequenceWorker(e.processor, e.monitor).RunOnce(ctx)
	emails := e.store.Emails()
	require.Len(t, emails, 1)

	detector := reply.NewDetector(e.repos, e.tracker, e.monitor)
	detector.Now = clock
	source := &fakeSource{
		messages: []reply.InboundMessage{
			{UID: 11, MessageID: "r1@acme.com", InReplyTo: []string{emails[0].MessageID}, Body: "Sounds good"},
			{UID: 12, MessageID: "r2@other.com", InReplyTo: []string{"unknown@else"}, Body: "?"},
		},
		err: errors.New("message 3: body not found"),
	}

	res := NewReplyPoller(source, detector, e.monitor).RunOnce(ctx)
	assert.Equal(t, PollResult{Fetched: 2, Matched: 1, Unmatched: 1}, res)
	assert.True(t, e.store.Lead(lead.ID).HasReplied)
	assert.Equal(t, []uint32{11, 12}, source.seen)

	p, err := e.tracker.Progress(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, p.IsPaused)
}

func TestReplyPollerLeavesFailedMessagesUnseen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := e.enroll(t, "Acme", "jane@acme.com")
	NewSequenceWorker(e.processor, e.monitor).RunOnce(ctx)
	emails := e.store.Emails()
	require.Len(t, emails, 1)

	repos := e.repos
	repos.Emails = failingEmails{EmailRepository: repos.Emails, id: emails[0].MessageID}
	detector := reply.NewDetector(repos, e.tracker, e.monitor)
	detector.Now = clock
	source := &fakeSource{messages: []reply.InboundMessage{
		{UID: 21, MessageID: "r1@acme.com", InReplyTo: []string{emails[0].MessageID}, Body: "Sounds good"},
		{UID: 22, MessageID: "r2@other.com", InReplyTo: []string{"unknown@else"}, Body: "?"},
	}}

	res := NewReplyPoller(source, detector, e.monitor).RunOnce(ctx)
	assert.Equal(t, PollResult{Fetched: 2, Failed: 1, Unmatched: 1}, res)
	assert.Equal(t, []uint32{22}, source.seen)
	assert.False(t, e.store.Lead(lead.ID).HasReplied)

	// Recovered store: the retried message is handled and acknowledged
	source.seen = nil
	res = NewReplyPoller(source, reply.NewDetector(e.repos, e.tracker, e.monitor), e.monitor).RunOnce(ctx)
	assert.Equal(t, 1, res.Matched)
	assert.Contains(t, source.seen, uint32(21))
	assert.True(t, e.store.Lead(lead.ID).HasReplied)
}

func TestWorkersStopOnCancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	seq := NewSequenceWorker(e.processor, e.monitor)
	seq.Interval = 5 * time.Millisecond
	dispatch := NewDispatchWorker(e.repos, &fakeSender{}, nil, e.monitor)
	dispatch.Interval = 5 * time.Millisecond
	poller := NewReplyPoller(&fakeSource{}, reply.NewDetector(e.repos, e.tracker, e.monitor), e.monitor)
	poller.Interval = 5 * time.Millisecond

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){seq.Start, dispatch.Start, poller.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}

	time.Sleep(30 * time.Millisecond)
	cancel()
	wg.Wait()
}
