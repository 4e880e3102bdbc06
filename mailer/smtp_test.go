package mailer

import (
	"bytes"
	"context"
	"errors"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"leadpilot/models"
	"leadpilot/utils"
)

type fakeDialer struct {
	errs  []error
	calls int
	sent  []*gomail.Message
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.calls++
	d.sent = append(d.sent, m...)
	if len(d.errs) == 0 {
		return nil
	}
	err := d.errs[0]
	d.errs = d.errs[1:]
	return err
}

var testCfg = SMTPConfig{Host: "smtp.example.com", Port: 587, FromEmail: "outreach@leadpilot.local", FromName: "Outreach"}

func testEmail() *models.Email {
	return &models.Email{
		ToEmail:   "jane@acme.com",
		Subject:   "Quick question",
		Body:      "Hi Jane",
		MessageID: "<abc@leadpilot.local>",
	}
}

func newTestSender(d *fakeDialer) *SMTPSender {
	s := NewSMTPSenderWithDialer(testCfg, d)
	s.Backoff = func(int) time.Duration { return time.Millisecond }
	return s
}

func TestBuildMessageHeaders(t *testing.T) {
	m := newTestSender(&fakeDialer{}).BuildMessage(testEmail())

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()

	assert.Contains(t, raw, "Message-ID: <abc@leadpilot.local>")
	assert.Contains(t, raw, "To: jane@acme.com")
	assert.Contains(t, raw, "Subject: Quick question")
	assert.Contains(t, raw, `From: "Outreach" <outreach@leadpilot.local>`)
	assert.Contains(t, raw, "Hi Jane")
}

func TestBuildMessageAddsTrackedHTMLPart(t *testing.T) {
	s := newTestSender(&fakeDialer{})
	email := testEmail()
	email.ID = 9

	var plain bytes.Buffer
	_, err := s.BuildMessage(email).WriteTo(&plain)
	require.NoError(t, err)
	assert.NotContains(t, plain.String(), "text/html")

	s.Tracker = utils.NewOpenTracker("https://t.test", "secret")
	var tracked bytes.Buffer
	_, err = s.BuildMessage(email).WriteTo(&tracked)
	require.NoError(t, err)
	assert.Contains(t, tracked.String(), "multipart/alternative")
	assert.Contains(t, tracked.String(), "text/html")
}

func TestSendReturnsMessageID(t *testing.T) {
	d := &fakeDialer{}
	id, err := newTestSender(d).Send(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Equal(t, "<abc@leadpilot.local>", id)
	assert.Equal(t, 1, d.calls)
}

func TestSendRetriesTemporaryFailures(t *testing.T) {
	d := &fakeDialer{errs: []error{&textproto.Error{Code: 451, Msg: "try later"}}}
	_, err := newTestSender(d).Send(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Equal(t, 2, d.calls)
}

func TestSendStopsOnPermanentFailure(t *testing.T) {
	d := &fakeDialer{errs: []error{&textproto.Error{Code: 550, Msg: "mailbox unavailable"}}}
	_, err := newTestSender(d).Send(context.Background(), testEmail())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox unavailable")
	assert.Equal(t, 1, d.calls)
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	temp := errors.New("421 service not available, try again")
	d := &fakeDialer{errs: []error{temp, temp, temp, temp}}
	_, err := newTestSender(d).Send(context.Background(), testEmail())
	assert.ErrorIs(t, err, temp)
	assert.Equal(t, 3, d.calls)
}

func TestIsTemporary(t *testing.T) {
	assert.False(t, IsTemporary(nil))
	assert.True(t, IsTemporary(&textproto.Error{Code: 450}))
	assert.False(t, IsTemporary(&textproto.Error{Code: 554}))
	assert.True(t, IsTemporary(errors.New("Temporary failure")))
	assert.False(t, IsTemporary(errors.New("auth failed")))
}

func TestSMTPConfigEnabled(t *testing.T) {
	assert.True(t, testCfg.Enabled())
	assert.False(t, SMTPConfig{Host: "smtp.example.com"}.Enabled())
}
