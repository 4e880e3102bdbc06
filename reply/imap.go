package reply

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// IMAPConfig describes the reply inbox.
type IMAPConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Encryption string `yaml:"encryption"` // SSL, TLS, STARTTLS or empty
	Mailbox    string `yaml:"mailbox"`
}

func (c IMAPConfig) Enabled() bool {
	return c.Host != "" && c.Username != ""
}

// InboundMessage is a parsed message from the reply inbox.
type InboundMessage struct {
	UID        uint32
	MessageID  string
	InReplyTo  []string
	References []string
	From       string
	Subject    string
	Body       string
	Date       time.Time
}

// ReferencedIDs lists the ids a message answers, most specific first.
func (m InboundMessage) ReferencedIDs() []string {
	ids := append([]string{}, m.InReplyTo...)
	for i := len(m.References) - 1; i >= 0; i-- {
		ids = append(ids, m.References[i])
	}
	return ids
}

// IMAPSource reads unseen messages from a mailbox.
type IMAPSource struct {
	cfg IMAPConfig
}

func NewIMAPSource(cfg IMAPConfig) *IMAPSource {
	return &IMAPSource{cfg: cfg}
}

func (s *IMAPSource) dial() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	var (
		c   *client.Client
		err error
	)
	switch strings.ToUpper(s.cfg.Encryption) {
	case "SSL", "TLS":
		c, err = client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		c, err = client.Dial(addr)
		if err == nil {
			err = c.StartTLS(tlsConfig)
		}
	default:
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	return c, nil
}

// open logs in and selects the configured mailbox.
func (s *IMAPSource) open(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.dial()
	if err != nil {
		return nil, err
	}

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := "INBOX"
	if s.cfg.Mailbox != "" {
		mailbox = s.cfg.Mailbox
	}
	if _, err := c.Select(mailbox, false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}
	return c, nil
}

// FetchUnseen returns every unseen message without flagging it; callers
// acknowledge handled messages through MarkSeen. Messages that fail to parse
// are skipped and reported through the returned error.
func (s *IMAPSource) FetchUnseen(ctx context.Context) ([]InboundMessage, error) {
	c, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var (
		out  []InboundMessage
		errs []error
	)
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			errs = append(errs, fmt.Errorf("message %d: body not found", msg.Uid))
			continue
		}
		parsed, err := ParseMessage(body)
		if err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", msg.Uid, err))
			continue
		}
		parsed.UID = msg.Uid
		out = append(out, parsed)
	}
	if err := <-done; err != nil {
		errs = append(errs, fmt.Errorf("error during fetch: %w", err))
	}
	return out, errors.Join(errs...)
}

// MarkSeen flags the given messages as seen.
func (s *IMAPSource) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	c, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return fmt.Errorf("failed to mark messages seen: %w", err)
	}
	return nil
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// ParseMessage reads an RFC 5322 message. The first text/plain part is the
// body; an HTML part with tags stripped is used when there is no plain text.
func ParseMessage(r io.Reader) (InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("failed to create message reader: %w", err)
	}
	defer mr.Close()

	var msg InboundMessage
	h := mr.Header
	msg.MessageID, _ = h.MessageID()
	msg.InReplyTo, _ = h.MsgIDList("In-Reply-To")
	msg.References, _ = h.MsgIDList("References")
	msg.Subject, _ = h.Subject()
	msg.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("failed to read next part: %w", err)
		}
		ih, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := ih.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return msg, fmt.Errorf("failed to read part body: %w", err)
		}
		switch {
		case plain == "" && (contentType == "text/plain" || contentType == ""):
			plain = string(b)
		case html == "" && contentType == "text/html":
			html = string(b)
		}
	}

	if plain != "" {
		msg.Body = strings.TrimSpace(plain)
	} else {
		msg.Body = strings.TrimSpace(htmlTag.ReplaceAllString(html, " "))
	}
	msg.Body = StripQuoted(msg.Body)
	return msg, nil
}

// StripQuoted drops the quoted original below a reply.
func StripQuoted(body string) string {
	lines := strings.Split(body, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:") {
			break
		}
		if trimmed == "-----Original Message-----" {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// HandleInbound matches a parsed inbox message to a sent email and applies it.
// matched is false when the message answers nothing we sent.
func (d *Detector) HandleInbound(ctx context.Context, msg InboundMessage) (out Outcome, matched bool, err error) {
	email, err := d.MatchEmail(ctx, msg.ReferencedIDs(), "")
	if errors.Is(err, ErrEmailNotFound) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, err
	}
	ts := msg.Date
	if ts.IsZero() {
		ts = d.Now()
	}
	out, err = d.HandleReply(ctx, Event{
		EmailID:    email.ID,
		LeadID:     email.LeadID,
		CampaignID: email.CampaignID,
		ReplyText:  msg.Body,
		Timestamp:  ts,
	})
	return out, true, err
}
