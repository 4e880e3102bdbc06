package reply

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainReply = "From: Jane Doe <jane@acme.com>\r\n" +
	"To: outreach@leadpilot.local\r\n" +
	"Subject: Re: Hello\r\n" +
	"Date: Wed, 06 Mar 2024 11:00:00 -0500\r\n" +
	"Message-ID: <reply-1@acme.com>\r\n" +
	"In-Reply-To: <abc123@leadpilot.local>\r\n" +
	"References: <first@leadpilot.local> <abc123@leadpilot.local>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Sounds good, let's talk next week.\r\n" +
	"\r\n" +
	"On Tue, Mar 5, 2024 at 9:00 AM Outreach wrote:\r\n" +
	"> Hi Jane\r\n"

const htmlReply = "From: bob@example.com\r\n" +
	"Subject: Re: Hi\r\n" +
	"Message-ID: <reply-2@example.com>\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>No thanks</p>\r\n"

func TestParseMessagePlain(t *testing.T) {
	msg, err := ParseMessage(strings.NewReader(plainReply))
	require.NoError(t, err)

	assert.Equal(t, "reply-1@acme.com", msg.MessageID)
	assert.Equal(t, []string{"abc123@leadpilot.local"}, msg.InReplyTo)
	assert.Equal(t, "jane@acme.com", msg.From)
	assert.Equal(t, "Re: Hello", msg.Subject)
	assert.Equal(t, "Sounds good, let's talk next week.", msg.Body)
	assert.Equal(t, []string{"abc123@leadpilot.local", "abc123@leadpilot.local", "first@leadpilot.local"}, msg.ReferencedIDs())
}

func TestParseMessageHTMLFallback(t *testing.T) {
	msg, err := ParseMessage(strings.NewReader(htmlReply))
	require.NoError(t, err)
	assert.Equal(t, "No thanks", msg.Body)
	assert.Empty(t, msg.InReplyTo)
}

func TestHandleInbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := ParseMessage(strings.NewReader(plainReply))
	require.NoError(t, err)

	out, matched, err := f.detector.HandleInbound(ctx, msg)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, f.email.ID, out.EmailID)
	assert.Equal(t, SentimentPositive, out.Sentiment)

	stray, err := ParseMessage(strings.NewReader(htmlReply))
	require.NoError(t, err)
	_, matched, err = f.detector.HandleInbound(ctx, stray)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestStripQuoted(t *testing.T) {
	body := "Sure thing\n\n-----Original Message-----\nFrom: us"
	assert.Equal(t, "Sure thing", StripQuoted(body))
	assert.Equal(t, "a\nb", StripQuoted("a\n> quoted\nb"))
}

func TestIMAPConfigEnabled(t *testing.T) {
	assert.False(t, IMAPConfig{}.Enabled())
	assert.True(t, IMAPConfig{Host: "imap.example.com", Username: "u"}.Enabled())
}
