package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name    string `json:"name" validate:"notblank,max=5"`
	Count   int    `json:"count" validate:"min=1,max=10"`
	Mode    string `json:"mode" validate:"omitempty,oneof=fast slow"`
	Address string `json:"-" validate:"omitempty,email"`
}

func TestValidationMessages(t *testing.T) {
	assert.Nil(t, ValidationMessages(sampleRequest{Name: "ok", Count: 3}))

	msgs := ValidationMessages(sampleRequest{Name: "   ", Count: 11, Mode: "medium", Address: "nope"})
	assert.Equal(t, []string{
		"name is required",
		"count must be at most 10",
		"mode must be one of: fast, slow",
		"Address must be a valid email",
	}, msgs)

	msgs = ValidationMessages(sampleRequest{Name: "toolong", Count: 0})
	assert.Equal(t, []string{
		"name must be at most 5 characters",
		"count must be at least 1",
	}, msgs)
}

func TestValidateStructJoinsMessages(t *testing.T) {
	err := ValidateStruct(sampleRequest{Count: 1})
	require.Error(t, err)
	assert.Equal(t, "name is required", err.Error())
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("s3cret", 42, 3, time.Minute)
	require.NoError(t, err)

	claims, err := ParseJWTToken("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, 3, claims.TokenVersion)

	_, err = ParseJWTToken("other", token)
	assert.Error(t, err)
}

func TestJWTExpired(t *testing.T) {
	token, err := GenerateAccessToken("s3cret", 1, 0, -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWTToken("s3cret", token)
	assert.Error(t, err)
}

func TestParseUintAndPointer(t *testing.T) {
	assert.Equal(t, uint(12), ParseUint("12"))
	assert.Equal(t, uint(0), ParseUint("abc"))
	assert.Equal(t, 5, *Pointer(5))
}

func TestOpenTrackerSignsPerEmail(t *testing.T) {
	tracker := NewOpenTracker("https://api.leadpilot.test/", "secret")

	token := tracker.Token(42)
	assert.Len(t, token, 22)
	assert.True(t, tracker.Verify(42, token))
	assert.False(t, tracker.Verify(43, token))
	assert.False(t, NewOpenTracker("https://api.leadpilot.test", "other").Verify(42, token))

	assert.Equal(t, "https://api.leadpilot.test/track/open/42/"+token, tracker.PixelURL(42))
}

func TestInjectPixelBeforeBodyClose(t *testing.T) {
	tracker := NewOpenTracker("https://t.test", "secret")

	out := tracker.InjectPixel("<html><body><p>Hi</p></BODY></html>", 7)
	assert.Contains(t, out, `<p>Hi</p><img src="https://t.test/track/open/7/`)
	assert.True(t, len(out) > 0 && out[len(out)-14:] == "</BODY></html>")

	out = tracker.InjectPixel("<p>Hi</p>", 7)
	assert.Contains(t, out, "<p>Hi</p><img ")
}
