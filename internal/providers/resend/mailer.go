// Package resend delivers mail through the Resend transactional API.
package resend

import (
	"context"
	"net/http"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Name is the provider name used in logs and errors.
const Name = "resend"

// MaxBatchSize is the number of messages Resend accepts per batch call.
const MaxBatchSize = 100

// Mailer implements core.Mailer for Resend.
type Mailer struct {
	client *resend.Client
	logger zerolog.Logger
}

// Option configures a Mailer.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets the HTTP client used to reach the API.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// NewMailer creates a Resend mailer from RESEND credentials.
func NewMailer(creds core.Credentials, logger zerolog.Logger, opts ...Option) (*Mailer, error) {
	if creds.APIKey == "" {
		return nil, core.NewValidationError("apiKey", "Resend API key is required")
	}

	o := options{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}

	base := o.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := *o.httpClient
	httpClient.Transport = statusTransport{base: base}

	return &Mailer{
		client: resend.NewCustomClient(&httpClient, creds.APIKey),
		logger: logger.With().Str("provider", Name).Logger(),
	}, nil
}

// SendEmail sends one message to all recipients.
func (m *Mailer) SendEmail(ctx context.Context, to []string, from, subject, content string) core.SendOperationResult {
	ctx, status := withStatus(ctx)
	params := &resend.SendEmailRequest{
		From:    from,
		To:      to,
		Subject: subject,
		Html:    content,
	}

	if _, err := m.client.Emails.SendWithContext(ctx, params); err != nil {
		return m.failure(to, *status, err)
	}
	return core.SentTo(to...)
}

// SendEmails uses the batch endpoint and falls back to individual sends when
// the batch call fails, so each address gets its own classification.
func (m *Mailer) SendEmails(ctx context.Context, mails []core.Mail) core.SendOperationResult {
	var result core.SendOperationResult
	for start := 0; start < len(mails); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(mails) {
			end = len(mails)
		}
		result = result.Combine(m.sendBatch(ctx, mails[start:end]))
	}
	return result
}

func (m *Mailer) sendBatch(ctx context.Context, mails []core.Mail) core.SendOperationResult {
	if len(mails) == 0 {
		return core.SendOperationResult{}
	}

	params := make([]*resend.SendEmailRequest, len(mails))
	recipients := make([]string, len(mails))
	for i, mail := range mails {
		params[i] = &resend.SendEmailRequest{
			From:    mail.From,
			To:      []string{mail.To},
			Subject: mail.Subject,
			Html:    mail.Content,
		}
		recipients[i] = mail.To
	}

	bctx, status := withStatus(ctx)
	if _, err := m.client.Batch.SendWithContext(bctx, params); err != nil {
		m.logger.Warn().Err(err).Int("status", *status).Int("batch_size", len(mails)).
			Msg("batch send failed, falling back to individual sends")
		return core.SendEach(ctx, mails, func(ctx context.Context, mail core.Mail) core.SendOperationResult {
			return m.SendEmail(ctx, []string{mail.To}, mail.From, mail.Subject, mail.Content)
		})
	}
	return core.SentTo(recipients...)
}

func (m *Mailer) failure(to []string, status int, err error) core.SendOperationResult {
	perr := core.NewHTTPProviderError(Name, status, err)
	m.logger.Warn().Err(perr).Strs("to", to).Msg("send failed")
	return core.FailedWith(perr.Kind, to...)
}

type statusKey struct{}

// withStatus returns a context whose HTTP responses record their status code
// in the returned pointer. The Resend client reports failures as plain errors,
// so the status has to be captured at the transport.
func withStatus(ctx context.Context) (context.Context, *int) {
	status := new(int)
	return context.WithValue(ctx, statusKey{}, status), status
}

type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}

var _ core.Mailer = (*Mailer)(nil)
