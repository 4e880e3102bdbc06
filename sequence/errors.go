package sequence

import (
	"errors"
	"strings"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrStepNotFound     = errors.New("sequence step not found")
	ErrProgressNotFound = errors.New("lead sequence progress not found")
	ErrNoActiveSteps    = errors.New("campaign has no active sequence steps")
	ErrLeadNotFound     = errors.New("lead not found")
	ErrLeadLocked       = errors.New("lead is being processed by another pass")
)

// ValidationError lists every rule a sequence definition broke.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid sequence: " + strings.Join(e.Errors, "; ")
}
