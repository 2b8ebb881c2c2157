package smtp

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Name is the provider name used in logs and errors.
const Name = "smtp"

// SendFunc delivers a message to a server. It matches smtp.SendMail.
type SendFunc func(addr string, auth sasl.Client, from string, to []string, r io.Reader) error

// Mailer implements core.Mailer for SMTP submission servers.
type Mailer struct {
	host     string
	addr     string
	username string
	password string
	send     SendFunc
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithSendFunc replaces the function that talks to the server.
func WithSendFunc(fn SendFunc) Option {
	return func(m *Mailer) {
		m.send = fn
	}
}

// NewMailer creates an SMTP mailer from SMTP credentials. Port 465 uses
// implicit TLS; any other port uses STARTTLS when the server offers it.
func NewMailer(creds core.Credentials, logger zerolog.Logger, opts ...Option) (*Mailer, error) {
	if creds.SMTPHost == "" {
		return nil, core.NewValidationError("smtpHost", "SMTP host is required")
	}
	port := creds.SMTPPort
	if port == 0 {
		port = core.DefaultSMTPPort
	}

	m := &Mailer{
		host:     creds.SMTPHost,
		addr:     net.JoinHostPort(creds.SMTPHost, strconv.Itoa(port)),
		username: creds.Username,
		password: creds.Password,
		send:     smtp.SendMail,
		now:      time.Now,
		logger:   logger.With().Str("provider", Name).Str("host", creds.SMTPHost).Logger(),
	}
	if port == 465 {
		m.send = smtp.SendMailTLS
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SendEmail sends one message to all recipients. Unparsable recipients are
// bounced without contacting the server.
func (m *Mailer) SendEmail(ctx context.Context, to []string, from, subject, content string) core.SendOperationResult {
	var result core.SendOperationResult
	var valid []string
	for _, recipient := range to {
		if _, err := mail.ParseAddress(recipient); err != nil {
			m.logger.Warn().Err(err).Str("to", recipient).Msg("invalid recipient address")
			result = result.Combine(core.FailedWith(core.FailureBounced, recipient))
			continue
		}
		valid = append(valid, recipient)
	}
	if len(valid) == 0 {
		return result
	}
	if err := ctx.Err(); err != nil {
		return result.Combine(core.FailedWith(core.FailureTemporary, valid...))
	}

	sender, err := mail.ParseAddress(from)
	if err != nil {
		m.logger.Error().Err(err).Str("from", from).Msg("invalid sender address")
		return result.Combine(core.FailedWith(core.FailureTemporary, valid...))
	}

	envelope := make([]string, len(valid))
	for i, recipient := range valid {
		envelope[i] = core.Address(recipient)
	}

	message := m.buildMessage(sender, valid, subject, content)
	if err := m.send(m.addr, m.auth(), sender.Address, envelope, bytes.NewReader(message)); err != nil {
		kind := Classify(err)
		m.logger.Warn().Err(err).Str("kind", kind.String()).Strs("to", valid).Msg("send failed")
		return result.Combine(core.FailedWith(kind, valid...))
	}

	return result.Combine(core.SentTo(valid...))
}

// SendEmails sends each message in its own SMTP transaction.
func (m *Mailer) SendEmails(ctx context.Context, mails []core.Mail) core.SendOperationResult {
	return core.SendEach(ctx, mails, func(ctx context.Context, msg core.Mail) core.SendOperationResult {
		return m.SendEmail(ctx, []string{msg.To}, msg.From, msg.Subject, msg.Content)
	})
}

// Classify maps an SMTP error to a failure type. Permanent mailbox and
// policy rejections (550 to 554) bounce; everything else is transient.
func Classify(err error) core.FailureType {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 550 && smtpErr.Code <= 554 {
		return core.FailureBounced
	}
	return core.FailureTemporary
}

func (m *Mailer) auth() sasl.Client {
	if m.username == "" && m.password == "" {
		return nil
	}
	return sasl.NewPlainClient("", m.username, m.password)
}

// buildMessage builds an HTML message in RFC 5322 format.
func (m *Mailer) buildMessage(from *mail.Address, to []string, subject, content string) []byte {
	var message strings.Builder

	message.WriteString("From: " + from.String() + "\r\n")
	message.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	message.WriteString("Subject: " + mime.QEncoding.Encode("UTF-8", subject) + "\r\n")
	message.WriteString("Date: " + m.now().Format(time.RFC1123Z) + "\r\n")
	message.WriteString("Message-ID: " + m.messageID() + "\r\n")
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	message.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	message.WriteString("\r\n")
	message.WriteString(content + "\r\n")

	return []byte(message.String())
}

func (m *Mailer) messageID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("<%d@%s>", m.now().UnixNano(), m.host)
	}
	return "<" + hex.EncodeToString(buf) + "@" + m.host + ">"
}

var _ core.Mailer = (*Mailer)(nil)
