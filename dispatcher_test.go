package hermes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/LotuxPunk/Hermes/internal/captcha"
	"github.com/LotuxPunk/Hermes/internal/core"
)

type sendCall struct {
	to      []string
	from    string
	subject string
	content string
}

// recordingMailer records calls and reports every recipient as sent.
type recordingMailer struct {
	mu      sync.Mutex
	singles []sendCall
	batches [][]Mail
}

func (m *recordingMailer) SendEmail(_ context.Context, to []string, from, subject, content string) SendOperationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.singles = append(m.singles, sendCall{to: to, from: from, subject: subject, content: content})
	return core.SentTo(to...)
}

func (m *recordingMailer) SendEmails(_ context.Context, mails []Mail) SendOperationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, mails)
	var r SendOperationResult
	for _, mail := range mails {
		r = r.Combine(core.SentTo(mail.Recipient()))
	}
	return r
}

func (m *recordingMailer) calls() ([]sendCall, [][]Mail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sendCall(nil), m.singles...), append([][]Mail(nil), m.batches...)
}

// fakeFactory builds one recordingMailer per call.
type fakeFactory struct {
	mu      sync.Mutex
	created []*recordingMailer
	byKey   map[string]*recordingMailer
}

func (f *fakeFactory) build(_ context.Context, creds Credentials) (Mailer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &recordingMailer{}
	f.created = append(f.created, m)
	if f.byKey == nil {
		f.byKey = make(map[string]*recordingMailer)
	}
	f.byKey[creds.APIKey] = m
	return m, nil
}

func (f *fakeFactory) mailer(apiKey string) *recordingMailer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byKey[apiKey]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fixture struct {
	mail     map[string]string
	contact  map[string]string
	template map[string]string
}

func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestDispatcher(t *testing.T, fx fixture, opts ...Option) (*Dispatcher, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	base := []Option{
		WithDirectories(writeDir(t, fx.mail), writeDir(t, fx.contact), writeDir(t, fx.template)),
		WithMailerFactory(factory.build),
		WithRetry(1, time.Millisecond),
	}
	d, err := New(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { d.Close(context.Background()) })
	return d, factory
}

func mailConfig(id, apiKey, subject string) string {
	return `{"id":"` + id + `","provider":"RESEND","apiKey":"` + apiKey + `","sender":"a@x.com","subjectTemplate":"` + subject + `"}`
}

func TestSendMailRendersTemplates(t *testing.T) {
	d, factory := newTestDispatcher(t, fixture{
		mail:     map[string]string{"welcome.json": mailConfig("welcome", "re_1", "Hi {{name}}")},
		template: map[string]string{"welcome.mustache": "Hello {{name}}!"},
	})

	result, err := d.SendMail(context.Background(), &MailInput{
		ID:         "welcome",
		Email:      "b@y.com",
		Attributes: map[string]interface{}{"name": "Amy"},
	})
	if err != nil {
		t.Fatalf("SendMail() error = %v", err)
	}
	if result.Status() != StatusSent || len(result.Sent) != 1 || result.Sent[0] != "b@y.com" {
		t.Errorf("SendMail() = %+v", result)
	}

	_, batches := factory.mailer("re_1").calls()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("provider calls = %+v", batches)
	}
	want := Mail{From: "a@x.com", To: "b@y.com", Subject: "Hi Amy", Content: "Hello Amy!"}
	if got := batches[0][0]; got != want {
		t.Errorf("provider got %+v, want %+v", got, want)
	}
}

func TestSendMailErrors(t *testing.T) {
	d, factory := newTestDispatcher(t, fixture{
		mail: map[string]string{"welcome.json": mailConfig("welcome", "re_1", "Hi")},
	})
	ctx := context.Background()

	if _, err := d.SendMail(ctx, &MailInput{ID: "nope", Email: "b@y.com"}); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("unknown config error = %v", err)
	}
	if _, err := d.SendMail(ctx, &MailInput{ID: "welcome", Email: "b@y.com"}); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("missing template error = %v", err)
	}
	if _, err := d.SendMail(ctx, &MailInput{ID: "welcome", Email: "not-an-address"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("invalid email error = %v", err)
	}
	if factory.count() != 0 {
		t.Errorf("mailers created for rejected requests: %d", factory.count())
	}
}

func TestMailerSharedPerCredentialIdentity(t *testing.T) {
	d, factory := newTestDispatcher(t, fixture{
		mail: map[string]string{
			"c1.json": mailConfig("c1", "shared", "one"),
			"c2.json": mailConfig("c2", "shared", "two"),
			"c3.json": mailConfig("c3", "other", "three"),
		},
		template: map[string]string{"c1.txt": "1", "c2.txt": "2", "c3.txt": "3"},
	})

	for _, id := range []string{"c1", "c2", "c3", "c1"} {
		if _, err := d.SendMail(context.Background(), &MailInput{ID: id, Email: "b@y.com"}); err != nil {
			t.Fatalf("SendMail(%s) error = %v", id, err)
		}
	}

	if factory.count() != 2 {
		t.Errorf("mailers created = %d, want 2", factory.count())
	}
	_, shared := factory.mailer("shared").calls()
	if len(shared) != 3 {
		t.Errorf("shared mailer calls = %d, want 3", len(shared))
	}
}

func TestSendMailsGroupsByCredentialIdentity(t *testing.T) {
	d, factory := newTestDispatcher(t, fixture{
		mail: map[string]string{
			"c1.json": mailConfig("c1", "shared", "one"),
			"c2.json": mailConfig("c2", "shared", "two"),
			"c3.json": mailConfig("c3", "other", "three"),
		},
		template: map[string]string{"c1.txt": "1", "c2.txt": "2", "c3.txt": "3"},
	})

	inputs := []MailInput{
		{ID: "c1", Email: "u1@y.com"},
		{ID: "c2", Email: "u2@y.com"},
		{ID: "c3", Email: "u3@y.com"},
		{ID: "c1", Email: "u4@y.com"},
	}
	result, err := d.SendMails(context.Background(), inputs)
	if err != nil {
		t.Fatalf("SendMails() error = %v", err)
	}

	calls := 0
	for _, key := range []string{"shared", "other"} {
		_, batches := factory.mailer(key).calls()
		calls += len(batches)
	}
	if calls != 2 {
		t.Errorf("provider batch calls = %d, want 2", calls)
	}
	if _, batches := factory.mailer("shared").calls(); len(batches) != 1 || len(batches[0]) != 3 {
		t.Errorf("shared identity batches = %+v", batches)
	}

	sent := append([]string(nil), result.Sent...)
	sort.Strings(sent)
	want := []string{"u1@y.com", "u2@y.com", "u3@y.com", "u4@y.com"}
	if len(sent) != len(want) {
		t.Fatalf("merged sent = %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("merged sent = %v, want %v", sent, want)
			break
		}
	}
}

func TestSendMailsRejectsBeforeSending(t *testing.T) {
	d, factory := newTestDispatcher(t, fixture{
		mail:     map[string]string{"c1.json": mailConfig("c1", "k", "s")},
		template: map[string]string{"c1.txt": "body"},
	}, WithBatchSize(2))
	ctx := context.Background()

	tooMany := []MailInput{{ID: "c1", Email: "a@y.com"}, {ID: "c1", Email: "b@y.com"}, {ID: "c1", Email: "c@y.com"}}
	if _, err := d.SendMails(ctx, tooMany); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("oversized batch error = %v, want invalid argument", err)
	}

	unknown := []MailInput{{ID: "c1", Email: "a@y.com"}, {ID: "missing", Email: "b@y.com"}}
	if _, err := d.SendMails(ctx, unknown); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("unknown config error = %v", err)
	}

	if _, err := d.SendMails(ctx, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty batch error = %v", err)
	}
	if factory.count() != 0 {
		t.Errorf("mailers created for rejected batches: %d", factory.count())
	}
}

func recaptchaServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const recaptchaContact = `{
  "id": "contact",
  "provider": "RESEND",
  "apiKey": "re_c",
  "dailyLimit": 1,
  "destination": "owner@x.com",
  "sender": "noreply@x.com",
  "lang": "en",
  "subjectTemplate": "Contact {{form.email}}",
  "captcha": {"provider": "GOOGLE_RECAPTCHA", "secretKey": "g", "threshold": 0.5}
}`

const kerberusContact = `{
  "id": "pow",
  "provider": "RESEND",
  "apiKey": "re_c",
  "dailyLimit": 5,
  "destination": "owner@x.com, second@x.com",
  "sender": "noreply@x.com",
  "subjectTemplate": "Contact",
  "captcha": {"provider": "KERBERUS", "secretKey": "k"}
}`

func contactFixture() fixture {
	return fixture{
		contact: map[string]string{"contact.json": recaptchaContact, "pow.json": kerberusContact},
		template: map[string]string{
			"contact.mustache": "{{form.fullName}} ({{lang}}): {{form.content}}",
			"pow.mustache":     "{{form.content}}",
		},
	}
}

func TestSendContactForm(t *testing.T) {
	srv := recaptchaServer(t, `{"success":true,"score":0.9}`)
	d, factory := newTestDispatcher(t, contactFixture(), WithRecaptchaEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	ctx := context.Background()

	form := &ContactForm{ID: "contact", FullName: "Cat", Email: "c@d.com", Content: "Hi there", RecaptchaToken: "tok"}
	result, err := d.SendContactForm(ctx, form)
	if err != nil {
		t.Fatalf("SendContactForm() error = %v", err)
	}
	if result.Status() != StatusSent {
		t.Errorf("SendContactForm() = %+v", result)
	}

	singles, _ := factory.mailer("re_c").calls()
	if len(singles) != 1 {
		t.Fatalf("provider calls = %+v", singles)
	}
	got := singles[0]
	if len(got.to) != 1 || got.to[0] != "owner@x.com" || got.from != "noreply@x.com" {
		t.Errorf("addressing = %+v", got)
	}
	if got.subject != "Contact c@d.com" || got.content != "Cat (en): Hi there" {
		t.Errorf("rendered = %q / %q", got.subject, got.content)
	}

	_, err = d.SendContactForm(ctx, form)
	var limitErr *DailyLimitError
	if !errors.As(err, &limitErr) || limitErr.Limit != 1 || !errors.Is(err, ErrDailyLimitExceeded) {
		t.Errorf("second submission error = %v, want daily limit of 1", err)
	}
}

func TestSendContactFormCaptchaRejected(t *testing.T) {
	srv := recaptchaServer(t, `{"success":true,"score":0.1}`)
	d, factory := newTestDispatcher(t, contactFixture(), WithRecaptchaEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	form := &ContactForm{ID: "contact", FullName: "Bot", Email: "b@d.com", Content: "spam", RecaptchaToken: "tok"}
	if _, err := d.SendContactForm(context.Background(), form); !errors.Is(err, ErrCaptchaFailed) {
		t.Fatalf("error = %v, want captcha failure", err)
	}
	if usage := d.limiter.Usage("contact"); usage.Count != 0 {
		t.Errorf("quota recorded on rejected submission: %+v", usage)
	}
	if factory.count() != 0 {
		t.Error("mailer created for rejected submission")
	}
}

func TestSendContactFormVariantMismatch(t *testing.T) {
	d, _ := newTestDispatcher(t, contactFixture())

	form := &ContactForm{ID: "pow", FullName: "Cat", Email: "c@d.com", Content: "Hi", RecaptchaToken: "tok"}
	if _, err := d.SendContactForm(context.Background(), form); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("error = %v, want invalid argument", err)
	}

	if _, err := d.GetChallenge(context.Background(), "contact"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("GetChallenge() on a reCAPTCHA form error = %v", err)
	}
	if _, err := d.GetChallenge(context.Background(), "missing"); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("GetChallenge() on unknown form error = %v", err)
	}
}

func TestSendContactFormWithProofOfWork(t *testing.T) {
	d, factory := newTestDispatcher(t, contactFixture())
	ctx := context.Background()

	challenge, err := d.GetChallenge(ctx, "pow")
	if err != nil {
		t.Fatalf("GetChallenge() error = %v", err)
	}
	solution, err := captcha.Solve(ctx, challenge)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}

	form := &ContactForm{ID: "pow", FullName: "Cat", Email: "c@d.com", Content: "Hi", Solution: &solution}
	result, err := d.SendContactForm(ctx, form)
	if err != nil {
		t.Fatalf("SendContactForm() error = %v", err)
	}
	if len(result.Sent) != 2 {
		t.Errorf("sent = %v, want both destinations", result.Sent)
	}

	// Destination overrides replace the configured ones.
	override := *form
	override.Destinations = []string{"elsewhere@x.com"}
	if _, err := d.SendContactForm(ctx, &override); !errors.Is(err, ErrCaptchaFailed) {
		t.Errorf("replayed solution error = %v, want captcha failure", err)
	}

	challenge, _ = d.GetChallenge(ctx, "pow")
	solution, _ = captcha.Solve(ctx, challenge)
	override.Solution = &solution
	if _, err := d.SendContactForm(ctx, &override); err != nil {
		t.Fatalf("SendContactForm() with override error = %v", err)
	}
	singles, _ := factory.mailer("re_c").calls()
	if last := singles[len(singles)-1]; len(last.to) != 1 || last.to[0] != "elsewhere@x.com" {
		t.Errorf("override destinations = %v", last.to)
	}
}

func TestQueuedDelivery(t *testing.T) {
	d, _ := newTestDispatcher(t, fixture{
		mail:     map[string]string{"welcome.json": mailConfig("welcome", "re_1", "Hi")},
		template: map[string]string{"welcome.txt": "Hello"},
	}, WithQueue(100, 2))

	results, cancel := d.Subscribe()
	defer cancel()

	result, err := d.SendMail(context.Background(), &MailInput{ID: "welcome", Email: "b@y.com"})
	if err != nil || result.Status() != StatusSent {
		t.Fatalf("SendMail() = %+v, %v", result, err)
	}

	select {
	case r := <-results:
		if !r.Terminal || r.Result.Status() != StatusSent || r.Result.Sent[0] != "b@y.com" {
			t.Errorf("queued result = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no queued result published")
	}

	if stats := d.QueueStats(); stats.Sent != 1 || stats.RateLimit != 100 {
		t.Errorf("QueueStats() = %+v", stats)
	}
}

func TestDispatcherLifecycle(t *testing.T) {
	if _, err := New(DefaultConfig()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New() without directories error = %v", err)
	}

	d, _ := newTestDispatcher(t, fixture{})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := d.SendMail(context.Background(), &MailInput{ID: "x", Email: "b@y.com"}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendMail() after Close error = %v", err)
	}
}
