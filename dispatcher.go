package hermes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/LotuxPunk/Hermes/internal/captcha"
	"github.com/LotuxPunk/Hermes/internal/configstore"
	"github.com/LotuxPunk/Hermes/internal/core"
	"github.com/LotuxPunk/Hermes/internal/limiter"
	"github.com/LotuxPunk/Hermes/internal/providers"
	"github.com/LotuxPunk/Hermes/internal/queue"
)

// Dispatcher resolves configs, enforces quotas and captchas, renders
// templates and sends through one mailer per credential identity.
// All methods are safe for concurrent use.
type Dispatcher struct {
	config       Config
	mailConfigs  *configstore.Store[*core.MailConfig]
	contactForms *configstore.Store[*core.ContactFormConfig]
	templates    *configstore.Directory
	limiter      *limiter.DailyLimiter
	captcha      *captcha.Registry
	renderer     *MustacheEngine
	mailers      *mailerRegistry
	results      *queue.Broadcaster
	logger       zerolog.Logger
	tracer       trace.Tracer
	mu           sync.RWMutex
	closed       bool
}

// New creates a dispatcher with the given configuration. It loads every
// config and template file and keeps watching the directories.
// The dispatcher must be closed when no longer needed to release resources.
func New(config Config, opts ...Option) (*Dispatcher, error) {
	for _, opt := range opts {
		opt(&config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if config.MailerFactory == nil {
		config.MailerFactory = MailerFactory(providers.NewFactory(logger))
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Captcha.Timeout}
	}

	d := &Dispatcher{
		config:   config,
		limiter:  limiter.NewDailyLimiter(),
		renderer: NewTemplateEngine(config.Templates),
		results:  queue.NewBroadcaster(queue.DefaultSubscriberBuffer, logger),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		tracer:   otel.Tracer("github.com/LotuxPunk/Hermes"),
	}

	recaptcha := captcha.NewRecaptcha(config.HTTPClient, config.Captcha.RecaptchaEndpoint, GetVersionInfo().UserAgent(), logger)
	d.captcha = captcha.NewRegistry(recaptcha, config.Captcha.ChallengeTTL)
	d.mailers = newMailerRegistry(config.MailerFactory, config.queueConfig(), d.results.Publish, logger)

	var err error
	d.templates, err = configstore.OpenDirectory(config.Directories.Templates, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	d.mailConfigs, err = configstore.Open[*core.MailConfig](config.Directories.MailConfigs, core.DecodeMailConfig, d.templates, logger)
	if err != nil {
		d.templates.Close()
		return nil, fmt.Errorf("failed to load mail configs: %w", err)
	}

	d.contactForms, err = configstore.Open[*core.ContactFormConfig](config.Directories.ContactForms, core.DecodeContactFormConfig, d.templates, logger)
	if err != nil {
		d.mailConfigs.Close()
		d.templates.Close()
		return nil, fmt.Errorf("failed to load contact form configs: %w", err)
	}

	d.logger.Info().
		Int("mail_configs", len(d.mailConfigs.GetAll())).
		Int("contact_forms", len(d.contactForms.GetAll())).
		Bool("queue", config.Queue.Enabled).
		Msg("dispatcher ready")

	return d, nil
}

func (d *Dispatcher) checkOpen(span trace.Span) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		span.RecordError(ErrClosed)
		span.SetStatus(codes.Error, ErrClosed.Error())
		return ErrClosed
	}
	return nil
}

func fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

// SendContactForm verifies and sends a contact form submission to the form's
// configured destinations, or to the submission's own destinations if given.
func (d *Dispatcher) SendContactForm(ctx context.Context, form *ContactForm) (SendOperationResult, error) {
	ctx, span := d.tracer.Start(ctx, "hermes.Dispatcher.SendContactForm")
	defer span.End()

	if err := d.checkOpen(span); err != nil {
		return SendOperationResult{}, err
	}

	span.SetAttributes(attribute.String("hermes.config_id", form.ID))

	if err := form.Validate(); err != nil {
		return SendOperationResult{}, fail(span, err, "validation failed")
	}

	cfg, err := d.contactForms.Get(form.ID)
	if err != nil {
		return SendOperationResult{}, fail(span, err, "config not found")
	}

	if !d.limiter.CanSendMail(cfg) {
		return SendOperationResult{}, fail(span, &DailyLimitError{ConfigID: cfg.ID, Limit: cfg.DailyLimit}, "daily limit reached")
	}

	verdict, err := d.captcha.Verify(ctx, cfg.Captcha, form.CaptchaResponse())
	if err != nil {
		if !errors.Is(err, ErrInvalidArgument) {
			err = fmt.Errorf("%w: %w", ErrCaptchaFailed, err)
		}
		return SendOperationResult{}, fail(span, err, "captcha verification failed")
	}
	if verdict != captcha.Success {
		return SendOperationResult{}, fail(span, ErrCaptchaFailed, "captcha rejected")
	}

	if !d.limiter.RecordMailSent(cfg) {
		return SendOperationResult{}, fail(span, &DailyLimitError{ConfigID: cfg.ID, Limit: cfg.DailyLimit}, "daily limit reached")
	}

	model := form.Model(cfg.Lang)
	subject, content, err := d.render(cfg.ID, cfg.SubjectTemplate, d.contactForms.GetTemplate, model)
	if err != nil {
		return SendOperationResult{}, fail(span, err, "template render failed")
	}

	mailer, err := d.mailers.get(ctx, cfg.Credentials)
	if err != nil {
		return SendOperationResult{}, fail(span, err, "mailer unavailable")
	}

	to := form.Destinations
	if len(to) == 0 {
		to = cfg.Destinations()
	}
	span.SetAttributes(
		attribute.Int("hermes.recipients", len(to)),
		attribute.String("hermes.provider", cfg.Provider.String()),
	)

	result := mailer.SendEmail(ctx, to, cfg.Sender, subject, content)
	d.recordResult(span, result)
	return result, nil
}

// SendMail renders a mail config's templates with the input attributes and
// sends the result to the input's address.
func (d *Dispatcher) SendMail(ctx context.Context, input *MailInput) (SendOperationResult, error) {
	ctx, span := d.tracer.Start(ctx, "hermes.Dispatcher.SendMail")
	defer span.End()

	if err := d.checkOpen(span); err != nil {
		return SendOperationResult{}, err
	}

	span.SetAttributes(attribute.String("hermes.config_id", input.ID))

	if err := input.Validate(); err != nil {
		return SendOperationResult{}, fail(span, err, "validation failed")
	}

	cfg, mail, err := d.prepareMail(input)
	if err != nil {
		return SendOperationResult{}, fail(span, err, "prepare failed")
	}

	mailer, err := d.mailers.get(ctx, cfg.Credentials)
	if err != nil {
		return SendOperationResult{}, fail(span, err, "mailer unavailable")
	}
	span.SetAttributes(attribute.String("hermes.provider", cfg.Provider.String()))

	result := SendEmailsWithRetry(ctx, mailer, []Mail{mail}, d.config.Retry)
	d.recordResult(span, result)
	return result, nil
}

type identityGroup struct {
	creds core.Credentials
	mails []core.Mail
}

// SendMails sends a batch. Inputs are grouped by credential identity so
// configs sharing credentials go through one mailer call per group, and the
// groups are sent concurrently. Every input is resolved and rendered before
// anything is sent.
func (d *Dispatcher) SendMails(ctx context.Context, inputs []MailInput) (SendOperationResult, error) {
	ctx, span := d.tracer.Start(ctx, "hermes.Dispatcher.SendMails")
	defer span.End()

	if err := d.checkOpen(span); err != nil {
		return SendOperationResult{}, err
	}

	span.SetAttributes(attribute.Int("hermes.batch.size", len(inputs)))

	if len(inputs) == 0 {
		return SendOperationResult{}, fail(span, NewValidationError("inputs", "at least one mail is required"), "validation failed")
	}

	var (
		groups []*identityGroup
		byID   = make(map[string]*identityGroup)
	)
	for i := range inputs {
		input := &inputs[i]
		if err := input.Validate(); err != nil {
			return SendOperationResult{}, fail(span, fmt.Errorf("mail at index %d: %w", i, err), "validation failed")
		}

		cfg, mail, err := d.prepareMail(input)
		if err != nil {
			return SendOperationResult{}, fail(span, fmt.Errorf("mail at index %d: %w", i, err), "prepare failed")
		}

		identity := cfg.Credentials.Identifier()
		g, ok := byID[identity]
		if !ok {
			g = &identityGroup{creds: cfg.Credentials}
			byID[identity] = g
			groups = append(groups, g)
		}
		g.mails = append(g.mails, mail)
	}

	for _, g := range groups {
		if len(g.mails) > d.config.Batch.MaxSize {
			err := NewValidationErrorWithValue("inputs",
				fmt.Sprintf("%s batch exceeds the limit of %d mails", g.creds.Provider, d.config.Batch.MaxSize), len(g.mails))
			return SendOperationResult{}, fail(span, err, "batch too large")
		}
	}
	span.SetAttributes(attribute.Int("hermes.batch.groups", len(groups)))

	results := make([]SendOperationResult, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, g := range groups {
		eg.Go(func() error {
			mailer, err := d.mailers.get(egCtx, g.creds)
			if err != nil {
				return err
			}
			results[i] = SendEmailsWithRetry(egCtx, mailer, g.mails, d.config.Retry)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return SendOperationResult{}, fail(span, err, "mailer unavailable")
	}

	result := core.MergeResults(results...)
	d.recordResult(span, result)
	return result, nil
}

// GetChallenge issues a proof-of-work challenge for a contact form
// configured with Kerberus.
func (d *Dispatcher) GetChallenge(ctx context.Context, configID string) (Challenge, error) {
	_, span := d.tracer.Start(ctx, "hermes.Dispatcher.GetChallenge")
	defer span.End()

	if err := d.checkOpen(span); err != nil {
		return Challenge{}, err
	}

	span.SetAttributes(attribute.String("hermes.config_id", configID))

	cfg, err := d.contactForms.Get(configID)
	if err != nil {
		return Challenge{}, fail(span, err, "config not found")
	}

	challenge, err := d.captcha.Challenge(cfg.Captcha)
	if err != nil {
		return Challenge{}, fail(span, err, "challenge unavailable")
	}
	span.SetAttributes(attribute.Int("hermes.challenge.salts", len(challenge.Salts)))
	return challenge, nil
}

// Subscribe streams queued delivery results of every credential identity.
// Call the returned function to unsubscribe. Without queued delivery the
// stream stays silent.
func (d *Dispatcher) Subscribe() (<-chan QueuedMailResult, func()) {
	return d.results.Subscribe()
}

// QueueStats sums the counters of every delivery queue.
func (d *Dispatcher) QueueStats() QueueStats {
	return d.mailers.stats()
}

// Close stops the queues, draining them until ctx is done or
// Queue.ShutdownTimeout elapses, and the directory watchers.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.logger.Info().Msg("closing dispatcher")

	drainCtx := ctx
	if timeout := d.config.Queue.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	errs := []error{d.mailers.shutdown(drainCtx)}
	d.results.Close()
	d.captcha.Close()
	errs = append(errs,
		d.contactForms.Close(),
		d.mailConfigs.Close(),
		d.templates.Close(),
		d.renderer.Close(),
	)
	return errors.Join(errs...)
}

// prepareMail resolves the input's config and renders its mail.
func (d *Dispatcher) prepareMail(input *MailInput) (*core.MailConfig, Mail, error) {
	cfg, err := d.mailConfigs.Get(input.ID)
	if err != nil {
		return nil, Mail{}, err
	}

	subject, content, err := d.render(cfg.ID, cfg.SubjectTemplate, d.mailConfigs.GetTemplate, input.Attributes)
	if err != nil {
		return nil, Mail{}, err
	}

	return cfg, Mail{From: cfg.Sender, To: input.Email, Subject: subject, Content: content}, nil
}

// render renders a subject template and the config's body template.
func (d *Dispatcher) render(id, subjectTemplate string, template func(string) (string, error), model interface{}) (string, string, error) {
	body, err := template(id)
	if err != nil {
		return "", "", err
	}

	subject, err := d.renderer.RenderText(subjectTemplate, model)
	if err != nil {
		return "", "", withTemplate(err, id+".subject")
	}

	content, err := d.renderer.Render(body, model)
	if err != nil {
		return "", "", withTemplate(err, id)
	}
	return subject, content, nil
}

func withTemplate(err error, name string) error {
	var te *TemplateError
	if errors.As(err, &te) {
		te.Template = name
	}
	return err
}

func (d *Dispatcher) recordResult(span trace.Span, result SendOperationResult) {
	span.SetAttributes(
		attribute.String("hermes.status", result.Status().String()),
		attribute.Int("hermes.sent", len(result.Sent)),
		attribute.Int("hermes.failed", len(result.Failed)),
		attribute.Int("hermes.bounced", len(result.Bounced)),
		attribute.Int("hermes.temporary", len(result.Temporary)),
	)
	if result.Status() == StatusFailed {
		span.SetStatus(codes.Error, "send failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}
