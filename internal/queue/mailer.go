package queue

import (
	"context"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// QueuedMailer is a core.Mailer that enqueues instead of sending. Recipients
// reported as sent were accepted by the queue; their delivery outcome is
// published on the queue's result stream.
type QueuedMailer struct {
	queue *Queue
}

var _ core.SelfRetrying = (*QueuedMailer)(nil)

// NewQueuedMailer wraps q.
func NewQueuedMailer(q *Queue) *QueuedMailer {
	return &QueuedMailer{queue: q}
}

// SendEmail enqueues one item per recipient.
func (m *QueuedMailer) SendEmail(ctx context.Context, to []string, from, subject, content string) core.SendOperationResult {
	mails := make([]core.Mail, 0, len(to))
	for _, addr := range to {
		mails = append(mails, core.Mail{From: from, To: addr, Subject: subject, Content: content})
	}
	return m.SendEmails(ctx, mails)
}

// SendEmails enqueues every mail. Mails rejected by a closed queue are failed.
func (m *QueuedMailer) SendEmails(_ context.Context, mails []core.Mail) core.SendOperationResult {
	var result core.SendOperationResult
	for _, mail := range mails {
		if _, err := m.queue.Enqueue(mail); err != nil {
			result = result.Combine(core.FailedWith(core.FailurePermanent, mail.Recipient()))
			continue
		}
		result = result.Combine(core.SentTo(mail.Recipient()))
	}
	return result
}

// RetriesInternally reports that the queue already retries temporary failures.
func (m *QueuedMailer) RetriesInternally() bool { return true }

// Queue returns the underlying queue.
func (m *QueuedMailer) Queue() *Queue { return m.queue }
