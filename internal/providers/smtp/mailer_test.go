package smtp

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

type recordedSend struct {
	addr string
	from string
	to   []string
	body string
	auth bool
}

func newTestMailer(t *testing.T, fail func(to []string) error) (*Mailer, *[]recordedSend) {
	t.Helper()
	var sends []recordedSend
	send := func(addr string, auth sasl.Client, from string, to []string, r io.Reader) error {
		body, _ := io.ReadAll(r)
		sends = append(sends, recordedSend{addr: addr, from: from, to: to, body: string(body), auth: auth != nil})
		if fail != nil {
			return fail(to)
		}
		return nil
	}
	m, err := NewMailer(core.Credentials{
		Provider: core.ProviderSMTP,
		Username: "user",
		Password: "pass",
		SMTPHost: "smtp.example.com",
	}, zerolog.Nop(), WithSendFunc(send))
	if err != nil {
		t.Fatalf("NewMailer() error = %v", err)
	}
	return m, &sends
}

func TestSendEmail(t *testing.T) {
	m, sends := newTestMailer(t, nil)

	result := m.SendEmail(context.Background(), []string{"Amy <amy@y.com>"}, "Hermes <a@x.com>", "Héllo", "<p>Hi</p>")
	if result.Status() != core.StatusSent {
		t.Fatalf("unexpected result %+v", result)
	}

	got := (*sends)[0]
	if got.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q", got.addr)
	}
	if got.from != "a@x.com" || len(got.to) != 1 || got.to[0] != "amy@y.com" {
		t.Errorf("envelope = %q -> %v", got.from, got.to)
	}
	if !got.auth {
		t.Error("expected PLAIN auth")
	}
	if !strings.Contains(got.body, "Subject: =?UTF-8?q?H=C3=A9llo?=") {
		t.Errorf("subject not encoded: %q", got.body)
	}
	if !strings.Contains(got.body, "Content-Type: text/html; charset=UTF-8") || !strings.HasSuffix(got.body, "<p>Hi</p>\r\n") {
		t.Errorf("unexpected body %q", got.body)
	}
}

func TestInvalidAddressBounces(t *testing.T) {
	m, sends := newTestMailer(t, nil)

	result := m.SendEmail(context.Background(), []string{"not-an-address", "ok@y.com"}, "a@x.com", "s", "c")
	if len(*sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(*sends))
	}
	if len(result.Bounced) != 1 || result.Bounced[0] != "not-an-address" {
		t.Errorf("Bounced = %v", result.Bounced)
	}
	if len(result.Sent) != 1 || result.Status() != core.StatusPartial {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.FailureType
	}{
		{"mailbox unavailable", &smtp.SMTPError{Code: 550, Message: "no such user"}, core.FailureBounced},
		{"user not local", &smtp.SMTPError{Code: 551}, core.FailureBounced},
		{"storage exceeded", &smtp.SMTPError{Code: 552}, core.FailureBounced},
		{"mailbox name invalid", &smtp.SMTPError{Code: 553}, core.FailureBounced},
		{"transaction failed", &smtp.SMTPError{Code: 554}, core.FailureBounced},
		{"greylisted", &smtp.SMTPError{Code: 451}, core.FailureTemporary},
		{"auth failed", &smtp.SMTPError{Code: 535}, core.FailureTemporary},
		{"network", errors.New("connection refused"), core.FailureTemporary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSendEmailsClassifiesServerReplies(t *testing.T) {
	m, sends := newTestMailer(t, func(to []string) error {
		switch to[0] {
		case "gone@y.com":
			return &smtp.SMTPError{Code: 550, Message: "mailbox unavailable"}
		case "later@y.com":
			return &smtp.SMTPError{Code: 421, Message: "try again later"}
		}
		return nil
	})

	result := m.SendEmails(context.Background(), []core.Mail{
		{From: "a@x.com", To: "ok@y.com", Subject: "s", Content: "c"},
		{From: "a@x.com", To: "gone@y.com", Subject: "s", Content: "c"},
		{From: "a@x.com", To: "later@y.com", Subject: "s", Content: "c"},
	})

	if len(*sends) != 3 {
		t.Errorf("sends = %d, want 3", len(*sends))
	}
	if len(result.Bounced) != 1 || result.Bounced[0] != "gone@y.com" {
		t.Errorf("Bounced = %v", result.Bounced)
	}
	if len(result.Temporary) != 1 || result.Temporary[0] != "later@y.com" {
		t.Errorf("Temporary = %v", result.Temporary)
	}
}
