package sequence

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/models"
)

func validInputs(n int) []StepInput {
	inputs := make([]StepInput, n)
	for i := range inputs {
		inputs[i] = StepInput{StepNumber: i + 1, DelayDays: i * 2, Subject: "Subject", Body: "Body"}
	}
	return inputs
}

func TestCreateSequence_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{1, 4, MaxSteps} {
		f := newFixture(t)
		inputs := validInputs(n)

		_, err := f.catalog.CreateSequence(ctx, f.campaign.ID, inputs)
		require.NoError(t, err)

		got, err := f.catalog.Steps(ctx, f.campaign.ID)
		require.NoError(t, err)

		want := make([]models.SequenceStep, n)
		for i, in := range inputs {
			want[i] = models.SequenceStep{
				CampaignID: f.campaign.ID,
				StepNumber: in.StepNumber,
				DelayDays:  in.DelayDays,
				Subject:    in.Subject,
				Body:       in.Body,
				IsActive:   true,
			}
		}
		if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(models.SequenceStep{}, "Model")); diff != "" {
			t.Errorf("steps mismatch for n=%d (-want +got):\n%s", n, diff)
		}
	}
}

func TestCreateSequence_OutOfOrderInputIsSorted(t *testing.T) {
	f := newFixture(t)
	inputs := []StepInput{
		{StepNumber: 2, DelayDays: 3, Subject: "Second", Body: "b"},
		{StepNumber: 1, DelayDays: 0, Subject: "First", Body: "a"},
	}
	steps, err := f.catalog.CreateSequence(context.Background(), f.campaign.ID, inputs)
	require.NoError(t, err)
	assert.Equal(t, "First", steps[0].Subject)
	assert.Equal(t, "Second", steps[1].Subject)
}

func TestCreateSequence_RejectsBadSetsWithoutMutation(t *testing.T) {
	tests := []struct {
		name    string
		numbers []int
		want    string
	}{
		{"gap", []int{1, 3}, "missing step 2"},
		{"duplicate", []int{1, 1, 2}, "Step 2: duplicate step_number 1"},
		{"not starting at one", []int{2, 3}, "missing step 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			inputs := make([]StepInput, len(tt.numbers))
			for i, n := range tt.numbers {
				inputs[i] = StepInput{StepNumber: n, Subject: "s", Body: "b"}
			}

			_, err := f.catalog.CreateSequence(context.Background(), f.campaign.ID, inputs)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, strings.Join(verr.Errors, "\n"), tt.want)
			assert.Zero(t, f.store.StepCount(f.campaign.ID))
		})
	}
}

func TestCreateSequence_InvalidReplacementKeepsPreviousSet(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 0, 2)

	_, err := f.catalog.CreateSequence(context.Background(), f.campaign.ID, []StepInput{
		{StepNumber: 1, Subject: "s", Body: "b"},
		{StepNumber: 3, Subject: "s", Body: "b"},
	})
	require.Error(t, err)
	assert.Equal(t, 2, f.store.StepCount(f.campaign.ID))
}

func TestCreateSequence_StoreFailureKeepsPreviousSet(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 0, 2, 4)
	f.store.FailOn("steps.replace", errors.New("disk full"))

	_, err := f.catalog.CreateSequence(context.Background(), f.campaign.ID, validInputs(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 3, f.store.StepCount(f.campaign.ID))
}

func TestValidateSteps_FieldRules(t *testing.T) {
	problems := ValidateSteps([]StepInput{
		{StepNumber: 1, DelayDays: 400, Subject: strings.Repeat("x", 201), Body: "ok"},
		{StepNumber: 2, DelayDays: -1, Subject: "ok", Body: "   "},
		{StepNumber: 0, Subject: "ok", Body: strings.Repeat("y", 10001)},
	})

	assert.Equal(t, []string{
		"Step 1: delay_days must be at most 365",
		"Step 1: subject must be at most 200 characters",
		"Step 2: delay_days must be at least 0",
		"Step 2: body is required",
		"Step 3: step_number must be at least 1",
		"Step 3: body must be at most 10000 characters",
	}, problems)
}

func TestValidateSteps_Counts(t *testing.T) {
	assert.Equal(t, []string{"sequence must have at least one step"}, ValidateSteps(nil))
	assert.Contains(t, ValidateSteps(validInputs(MaxSteps+1)), "sequence cannot have more than 10 steps")
	assert.Empty(t, ValidateSteps(validInputs(MaxSteps)))
}

func TestCreateSequence_UnknownCampaign(t *testing.T) {
	f := newFixture(t)
	_, err := f.catalog.CreateSequence(context.Background(), 9999, validInputs(1))
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestActiveStep(t *testing.T) {
	f := newFixture(t)
	f.steps(t, 0, 3)
	ctx := context.Background()

	step, err := f.catalog.ActiveStep(ctx, f.campaign.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, 3, step.DelayDays)

	step, err = f.catalog.ActiveStep(ctx, f.campaign.ID, 3)
	require.NoError(t, err)
	assert.Nil(t, step)

	f.store.SetStepActive(f.campaign.ID, 2, false)
	step, err = f.catalog.ActiveStep(ctx, f.campaign.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, step)
}
