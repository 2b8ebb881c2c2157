package core

import (
	"context"
	"net/mail"
	"strings"
)

// Mailer defines the interface implemented by every delivery backend.
// Provider failures are never returned as errors; they are folded per
// recipient into the SendOperationResult.
type Mailer interface {
	// SendEmail sends one message to every address in to.
	SendEmail(ctx context.Context, to []string, from, subject, content string) SendOperationResult

	// SendEmails sends a batch of messages, using the provider's batch API if
	// available and falling back to individual sends otherwise.
	SendEmails(ctx context.Context, mails []Mail) SendOperationResult
}

// SelfRetrying is implemented by mailers that already retry temporary
// failures on their own, such as queue-backed mailers. Retry helpers call
// them exactly once.
type SelfRetrying interface {
	Mailer
	RetriesInternally() bool
}

// Mail is a single rendered message.
type Mail struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// Recipient returns the bare address of the recipient, stripping any display name.
func (m Mail) Recipient() string {
	return Address(m.To)
}

// Address returns the bare address part of an RFC 5322 address string.
// Unparsable input is returned trimmed so it can still be reported.
func Address(raw string) string {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return addr.Address
}

// SplitAddresses splits a comma separated destination list, dropping empty entries.
func SplitAddresses(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SendStatus summarizes a SendOperationResult.
type SendStatus string

const (
	// StatusSent means nothing failed.
	StatusSent SendStatus = "SENT"

	// StatusPartial means some recipients were sent and some failed.
	StatusPartial SendStatus = "PARTIAL"

	// StatusFailed means every attempted recipient failed.
	StatusFailed SendStatus = "FAILED"
)

// String returns the string representation of the status.
func (s SendStatus) String() string {
	return string(s)
}

// SendOperationResult lists recipient addresses by outcome.
// Bounced and Temporary refine Failed: every bounced or temporary address is
// also present in Failed.
type SendOperationResult struct {
	Sent      []string `json:"sent"`
	Failed    []string `json:"failed"`
	Bounced   []string `json:"bounced"`
	Temporary []string `json:"temporary"`
}

// Status derives the overall status of the operation.
func (r SendOperationResult) Status() SendStatus {
	switch {
	case len(r.Failed) > 0 && len(r.Sent) == 0:
		return StatusFailed
	case len(r.Failed) > 0:
		return StatusPartial
	default:
		return StatusSent
	}
}

// Combine concatenates every field of r and other.
func (r SendOperationResult) Combine(other SendOperationResult) SendOperationResult {
	return SendOperationResult{
		Sent:      concat(r.Sent, other.Sent),
		Failed:    concat(r.Failed, other.Failed),
		Bounced:   concat(r.Bounced, other.Bounced),
		Temporary: concat(r.Temporary, other.Temporary),
	}
}

// MergeResults combines any number of results.
func MergeResults(results ...SendOperationResult) SendOperationResult {
	var merged SendOperationResult
	for _, r := range results {
		merged = merged.Combine(r)
	}
	return merged
}

// Total returns the number of distinct recipients accounted for.
func (r SendOperationResult) Total() int {
	return len(r.Sent) + len(r.Failed)
}

func concat(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// SentTo reports the given addresses as delivered.
func SentTo(addrs ...string) SendOperationResult {
	return SendOperationResult{Sent: addrs}
}

// FailedWith reports the given addresses as failed with the given classification.
func FailedWith(kind FailureType, addrs ...string) SendOperationResult {
	r := SendOperationResult{Failed: addrs}
	switch kind {
	case FailureBounced:
		r.Bounced = addrs
	case FailureTemporary:
		r.Temporary = addrs
	}
	return r
}

// FailureType classifies a provider failure.
type FailureType int

const (
	// FailureTemporary is a transient failure eligible for retry.
	FailureTemporary FailureType = iota

	// FailureBounced is a permanent failure that is never retried.
	FailureBounced

	// FailurePermanent is a failure that is neither bounced nor retried,
	// e.g. retries exhausted or an internal error.
	FailurePermanent
)

// String returns the string representation of the failure type.
func (f FailureType) String() string {
	switch f {
	case FailureBounced:
		return "bounced"
	case FailurePermanent:
		return "failed"
	default:
		return "temporary"
	}
}

// ClassifyHTTPStatus maps a transactional API status code to a failure type.
// Bad request, not found and validation errors are permanent; everything
// else, including rate limiting, server errors and unknown codes, is retried.
func ClassifyHTTPStatus(status int) FailureType {
	switch status {
	case 400, 404, 422:
		return FailureBounced
	default:
		return FailureTemporary
	}
}

// MailQueueItem is a unit of work for the dispatch queue.
type MailQueueItem struct {
	Reference  string `json:"reference"`
	Mail       Mail   `json:"mail"`
	Priority   int    `json:"priority"`
	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`
}

// DefaultMaxRetries is used when an item is enqueued without a retry bound.
const DefaultMaxRetries = 3

// CanRetry reports whether another attempt is allowed.
func (i MailQueueItem) CanRetry() bool {
	return i.RetryCount < i.MaxRetries
}

// NextAttempt returns a copy of the item with the retry count incremented.
func (i MailQueueItem) NextAttempt() MailQueueItem {
	i.RetryCount++
	return i
}

// QueuedMailResult is published by the dispatch queue for each attempt outcome.
// Exactly one result per reference has Terminal set.
type QueuedMailResult struct {
	Reference string              `json:"reference"`
	Result    SendOperationResult `json:"result"`
	Terminal  bool                `json:"terminal"`
	Attempt   int                 `json:"attempt"`
}

// SendEach sends mails one by one through send and merges the results.
// It is the batch fallback for providers without a usable batch API.
func SendEach(ctx context.Context, mails []Mail, send func(context.Context, Mail) SendOperationResult) SendOperationResult {
	var result SendOperationResult
	for _, m := range mails {
		result = result.Combine(send(ctx, m))
	}
	return result
}

// SplitName splits "Name <addr>" into its display name and address.
func SplitName(raw string) (name, address string) {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", strings.TrimSpace(raw)
	}
	return addr.Name, addr.Address
}
