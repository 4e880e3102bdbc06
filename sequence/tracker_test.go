package sequence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 2, 3)
	lead := f.lead("Acme", "jane@acme.test")
	ctx := context.Background()

	p, created, err := f.tracker.Initialize(ctx, lead.ID, f.campaign.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, p.CurrentStep)
	require.NotNil(t, p.NextSendDate)
	assert.True(t, p.NextSendDate.Equal(testNow.AddDate(0, 0, 2)))

	f.now = f.now.Add(time.Hour)
	again, created, err := f.tracker.Initialize(ctx, lead.ID, f.campaign.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)
	assert.True(t, again.NextSendDate.Equal(*p.NextSendDate))
	assert.Equal(t, 1, f.store.ProgressCount())
}

func TestInitialize_RequiresActiveSteps(t *testing.T) {
	f := newFixture(t)
	lead := f.lead("Acme", "jane@acme.test")

	_, _, err := f.tracker.Initialize(context.Background(), lead.ID, f.campaign.ID)
	assert.ErrorIs(t, err, ErrNoActiveSteps)
	assert.Zero(t, f.store.ProgressCount())
}

func TestAdvance_WalksToCompletion(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 0, 3, 5)
	lead := f.lead("Acme", "jane@acme.test")
	ctx := context.Background()

	_, _, err := f.tracker.Initialize(ctx, lead.ID, f.campaign.ID)
	require.NoError(t, err)

	res, err := f.tracker.Advance(ctx, lead.ID)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, 2, res.CurrentStep)
	assert.True(t, res.NextSendDate.Equal(testNow.AddDate(0, 0, 3)))

	f.now = f.now.AddDate(0, 0, 3)
	res, err = f.tracker.Advance(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.CurrentStep)
	assert.True(t, res.NextSendDate.Equal(f.now.AddDate(0, 0, 5)))

	res, err = f.tracker.Advance(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.CurrentStep, "current step must not pass the last real step")
	assert.Nil(t, res.NextSendDate)

	p, err := f.tracker.Progress(ctx, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, p.CompletedAt)
	assert.True(t, p.CompletedAt.Equal(f.now))

	res, err = f.tracker.Advance(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.CurrentStep)
}

func TestAdvance_InactiveNextStepCompletes(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 0, 1)
	f.store.SetStepActive(f.campaign.ID, 2, false)
	lead := f.lead("Acme", "jane@acme.test")
	ctx := context.Background()

	_, _, err := f.tracker.Initialize(ctx, lead.ID, f.campaign.ID)
	require.NoError(t, err)
	res, err := f.tracker.Advance(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.CurrentStep)
}

func TestAdvance_UnknownLead(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.Advance(context.Background(), 404)
	assert.ErrorIs(t, err, ErrProgressNotFound)
}

func TestPause_IsIdempotentAndKeepsReason(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 0)
	lead := f.lead("Acme", "jane@acme.test")
	ctx := context.Background()
	_, _, err := f.tracker.Initialize(ctx, lead.ID, f.campaign.ID)
	require.NoError(t, err)

	changed, err := f.tracker.Pause(ctx, lead.ID, "Lead replied to email")
	require.NoError(t, err)
	assert.True(t, changed)

	f.now = f.now.Add(time.Hour)
	changed, err = f.tracker.Pause(ctx, lead.ID, "manual")
	require.NoError(t, err)
	assert.False(t, changed)

	p, err := f.tracker.Progress(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, p.IsPaused)
	assert.Equal(t, "Lead replied to email", *p.PauseReason)
	assert.True(t, p.PausedAt.Equal(testNow))
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 0)
	lead := f.lead("Acme", "jane@acme.test")
	ctx := context.Background()
	_, _, err := f.tracker.Initialize(ctx, lead.ID, f.campaign.ID)
	require.NoError(t, err)

	changed, err := f.tracker.Resume(ctx, lead.ID)
	require.NoError(t, err)
	assert.False(t, changed, "resuming an active lead is a no-op")

	_, err = f.tracker.Pause(ctx, lead.ID, "manual")
	require.NoError(t, err)

	f.now = f.now.Add(6 * time.Hour)
	changed, err = f.tracker.Resume(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	p, err := f.tracker.Progress(ctx, lead.ID)
	require.NoError(t, err)
	assert.False(t, p.IsPaused)
	assert.Nil(t, p.PauseReason)
	assert.Nil(t, p.PausedAt)
	assert.True(t, p.NextSendDate.Equal(f.now.Add(24*time.Hour)))
}

func TestEligible_FiltersRepliedPausedCompletedAndFuture(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 0)
	ctx := context.Background()

	due := f.lead("Due", "a@due.test")
	replied := f.lead("Replied", "b@replied.test")
	paused := f.lead("Paused", "c@paused.test")
	completed := f.lead("Completed", "d@completed.test")
	for _, l := range []uint{due.ID, replied.ID, paused.ID, completed.ID} {
		_, _, err := f.tracker.Initialize(ctx, l, f.campaign.ID)
		require.NoError(t, err)
	}
	require.NoError(t, f.repos.Leads.MarkReplied(ctx, replied.ID, testNow))
	_, err := f.tracker.Pause(ctx, paused.ID, "manual")
	require.NoError(t, err)
	_, err = f.tracker.Advance(ctx, completed.ID)
	require.NoError(t, err)

	rows, err := f.tracker.Eligible(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].LeadID)
	assert.Equal(t, "Due", rows[0].Lead.BusinessName)

	f.now = f.now.Add(-time.Minute)
	rows, err = f.tracker.Eligible(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "rows due in the future are not eligible")
}
