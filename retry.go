package hermes

import (
	"context"
	"time"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// RetryConfig contains the retry policy for direct delivery.
type RetryConfig struct {
	// Enabled indicates whether temporary failures are retried.
	Enabled bool

	// MaxRetries is the number of retry passes after the initial send.
	MaxRetries int

	// Delay is multiplied by the attempt number to get the wait before each pass.
	Delay time.Duration
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:    true,
		MaxRetries: 3,
		Delay:      time.Second,
	}
}

// SendEmailsWithRetry sends mails and resends the ones reported temporary,
// waiting config.Delay times the attempt number before each pass. Addresses
// still temporary when retries run out, or when ctx is done, are reported
// as failed only. Mailers that retry on their own are called once.
func SendEmailsWithRetry(ctx context.Context, mailer core.Mailer, mails []core.Mail, config RetryConfig) core.SendOperationResult {
	if sr, ok := mailer.(core.SelfRetrying); ok && sr.RetriesInternally() {
		return mailer.SendEmails(ctx, mails)
	}

	settled, temporary := settle(mailer.SendEmails(ctx, mails))
	if !config.Enabled {
		return settled.Combine(core.FailedWith(core.FailureTemporary, temporary...))
	}

	for attempt := 1; attempt <= config.MaxRetries && len(temporary) > 0; attempt++ {
		timer := time.NewTimer(config.Delay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return settled.Combine(core.FailedWith(core.FailurePermanent, temporary...))
		case <-timer.C:
		}

		var result core.SendOperationResult
		result, temporary = settle(mailer.SendEmails(ctx, selectMails(mails, temporary)))
		settled = settled.Combine(result)
	}

	return settled.Combine(core.FailedWith(core.FailurePermanent, temporary...))
}

// settle splits a result into its final part and the temporary addresses.
func settle(r core.SendOperationResult) (core.SendOperationResult, []string) {
	if len(r.Temporary) == 0 {
		return r, nil
	}

	pending := counts(r.Temporary)
	failed := make([]string, 0, len(r.Failed))
	for _, addr := range r.Failed {
		if pending[addr] > 0 {
			pending[addr]--
			continue
		}
		failed = append(failed, addr)
	}
	if len(failed) == 0 {
		failed = nil
	}

	return core.SendOperationResult{
		Sent:    r.Sent,
		Failed:  failed,
		Bounced: r.Bounced,
	}, r.Temporary
}

// selectMails returns one mail per address in addrs, in the original order.
func selectMails(mails []core.Mail, addrs []string) []core.Mail {
	want := counts(addrs)
	out := make([]core.Mail, 0, len(addrs))
	for _, m := range mails {
		if want[m.Recipient()] > 0 {
			want[m.Recipient()]--
			out = append(out, m)
		}
	}
	return out
}

func counts(addrs []string) map[string]int {
	m := make(map[string]int, len(addrs))
	for _, a := range addrs {
		m[a]++
	}
	return m
}
