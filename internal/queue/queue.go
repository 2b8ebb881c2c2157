// Package queue implements the rate-limited dispatch queue: a pool of
// workers draining one FIFO through a shared token bucket, retrying
// temporary failures and broadcasting every outcome.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Defaults applied to zero Config fields.
const (
	DefaultRateLimit        = 10
	DefaultWorkers          = 4
	DefaultRetryBackoff     = time.Second
	DefaultSubscriberBuffer = 256
)

// Config holds queue settings.
type Config struct {
	// RateLimit is the number of sends allowed per second across all workers.
	RateLimit int

	// Workers is the number of concurrent workers.
	Workers int

	// RetryBackoff is multiplied by the attempt number to get the retry delay.
	RetryBackoff time.Duration

	// MaxRetries bounds the retries of items enqueued through Enqueue.
	MaxRetries int

	// SubscriberBuffer is the capacity of each Subscribe stream.
	SubscriberBuffer int

	// OnResult, if set, is called synchronously for every published result.
	OnResult func(core.QueuedMailResult)
}

func (c Config) withDefaults() Config {
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return c
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Queued         int64 `json:"queued"`
	Sent           int64 `json:"sent"`
	Failed         int64 `json:"failed"`
	PendingRetries int64 `json:"pendingRetries"`
	Backlog        int   `json:"backlog"`
	Workers        int   `json:"workers"`
	RateLimit      int   `json:"rateLimit"`
}

// Queue sends mails through a mailer at a bounded rate.
type Queue struct {
	mailer  core.Mailer
	config  Config
	bucket  *TokenBucket
	items   *fifo
	results *Broadcaster
	logger  zerolog.Logger
	tracer  trace.Tracer

	workerCtx     context.Context
	cancelWorkers context.CancelFunc
	workers       sync.WaitGroup

	retryCtx      context.Context
	cancelRetries context.CancelFunc
	retryMu       sync.Mutex
	retryClosed   bool
	retries       sync.WaitGroup

	queued         atomic.Int64
	sent           atomic.Int64
	failed         atomic.Int64
	pendingRetries atomic.Int64

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a queue and starts its workers.
func New(mailer core.Mailer, config Config, logger zerolog.Logger) *Queue {
	config = config.withDefaults()
	logger = logger.With().Str("component", "queue").Logger()

	q := &Queue{
		mailer:  mailer,
		config:  config,
		bucket:  NewTokenBucket(config.RateLimit, time.Second),
		items:   newFIFO(),
		results: NewBroadcaster(config.SubscriberBuffer, logger),
		logger:  logger,
		tracer:  otel.Tracer("github.com/LotuxPunk/Hermes/internal/queue"),
	}
	q.workerCtx, q.cancelWorkers = context.WithCancel(context.Background())
	q.retryCtx, q.cancelRetries = context.WithCancel(context.Background())

	logger.Info().Int("rate_limit", config.RateLimit).Int("workers", config.Workers).Msg("starting queue")
	for i := 0; i < config.Workers; i++ {
		q.workers.Add(1)
		go q.runWorker(i)
	}
	return q
}

// Enqueue adds a mail with the configured retry bound and returns its reference.
func (q *Queue) Enqueue(mail core.Mail) (string, error) {
	return q.EnqueueItem(core.MailQueueItem{Mail: mail, MaxRetries: q.config.MaxRetries})
}

// EnqueueAll adds mails in order. It stops at the first rejected mail.
func (q *Queue) EnqueueAll(mails []core.Mail) ([]string, error) {
	refs := make([]string, 0, len(mails))
	for _, m := range mails {
		ref, err := q.Enqueue(m)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// EnqueueItem adds an item as is, assigning a reference when it has none.
func (q *Queue) EnqueueItem(item core.MailQueueItem) (string, error) {
	if item.Reference == "" {
		item.Reference = uuid.NewString()
	}
	if err := q.items.push(item); err != nil {
		return "", err
	}
	q.queued.Add(1)
	q.logger.Debug().Str("reference", item.Reference).Int("priority", item.Priority).Msg("mail enqueued")
	return item.Reference, nil
}

// Subscribe returns a stream of results and its cancel function.
func (q *Queue) Subscribe() (<-chan core.QueuedMailResult, func()) {
	return q.results.Subscribe()
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Queued:         q.queued.Load(),
		Sent:           q.sent.Load(),
		Failed:         q.failed.Load(),
		PendingRetries: q.pendingRetries.Load(),
		Backlog:        q.items.len(),
		Workers:        q.config.Workers,
		RateLimit:      q.config.RateLimit,
	}
}

// Shutdown stops accepting mails, lets the workers drain the backlog until
// ctx is done, then cancels workers and pending retries. Items abandoned by
// the shutdown get a terminal failed result.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.shutdownOnce.Do(func() {
		q.logger.Info().Int("backlog", q.items.len()).Msg("shutting down queue")
		q.items.close()

		drained := make(chan struct{})
		go func() {
			q.workers.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			q.shutdownErr = fmt.Errorf("queue drain: %w", ctx.Err())
			q.logger.Warn().Int("backlog", q.items.len()).Msg("drain timed out, failing remaining mails")
		}
		q.cancelWorkers()
		// Cancelled workers fail the remaining backlog without sending, so
		// every item has its terminal result before the stream closes.
		<-drained

		q.retryMu.Lock()
		q.retryClosed = true
		q.retryMu.Unlock()
		q.cancelRetries()
		q.retries.Wait()

		q.results.Close()
		q.logger.Info().Int64("sent", q.sent.Load()).Int64("failed", q.failed.Load()).Msg("queue stopped")
	})
	return q.shutdownErr
}

func (q *Queue) runWorker(id int) {
	defer q.workers.Done()

	logger := q.logger.With().Int("worker_id", id).Logger()
	logger.Debug().Msg("worker started")

	for {
		item, ok := q.items.pop(q.workerCtx)
		if !ok {
			logger.Debug().Msg("worker stopped")
			return
		}
		q.process(item, logger)
	}
}

// process sends one item. A panic is confined to the item.
func (q *Queue) process(item core.MailQueueItem, logger zerolog.Logger) {
	logger = logger.With().Str("reference", item.Reference).Int("attempt", item.RetryCount+1).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("processing mail panicked")
			q.finish(item, core.FailedWith(core.FailurePermanent, item.Mail.Recipient()))
		}
	}()

	if err := q.workerCtx.Err(); err != nil {
		logger.Warn().Err(err).Msg("queue stopped before the mail was sent")
		q.finish(item, core.FailedWith(core.FailurePermanent, item.Mail.Recipient()))
		return
	}
	if err := q.bucket.Acquire(q.workerCtx); err != nil {
		logger.Warn().Err(err).Msg("queue stopped before a send token was available")
		q.finish(item, core.FailedWith(core.FailurePermanent, item.Mail.Recipient()))
		return
	}

	// In-flight sends survive worker cancellation.
	ctx, span := q.tracer.Start(context.WithoutCancel(q.workerCtx), "queue.Queue.process",
		trace.WithAttributes(
			attribute.String("queue.reference", item.Reference),
			attribute.Int("queue.retry_count", item.RetryCount),
		))
	defer span.End()

	m := item.Mail
	result := q.mailer.SendEmail(ctx, []string{m.To}, m.From, m.Subject, m.Content)

	switch {
	case len(result.Sent) > 0:
		logger.Info().Str("to", m.To).Msg("mail sent")
		q.finish(item, result)

	case len(result.Temporary) > 0 && item.CanRetry():
		span.SetStatus(codes.Error, "temporary failure")
		logger.Warn().Str("to", m.To).Int("max_retries", item.MaxRetries).Msg("temporary failure, scheduling retry")
		q.publish(core.QueuedMailResult{
			Reference: item.Reference,
			Result:    result,
			Attempt:   item.RetryCount + 1,
		})
		q.scheduleRetry(item)

	default:
		span.SetStatus(codes.Error, "send failed")
		logger.Error().Str("to", m.To).Strs("bounced", result.Bounced).Msg("mail failed")
		// Retries are exhausted: temporary no longer applies.
		result.Temporary = nil
		q.finish(item, result)
	}
}

func (q *Queue) scheduleRetry(item core.MailQueueItem) {
	delay := q.config.RetryBackoff * time.Duration(item.RetryCount+1)
	next := item.NextAttempt()

	q.retryMu.Lock()
	if q.retryClosed {
		q.retryMu.Unlock()
		q.finish(next, core.FailedWith(core.FailurePermanent, next.Mail.Recipient()))
		return
	}
	q.retries.Add(1)
	q.retryMu.Unlock()

	q.pendingRetries.Add(1)
	go func() {
		defer q.retries.Done()
		defer q.pendingRetries.Add(-1)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-q.retryCtx.Done():
			q.finish(next, core.FailedWith(core.FailurePermanent, next.Mail.Recipient()))
			return
		case <-timer.C:
		}

		if err := q.items.push(next); err != nil {
			q.logger.Warn().Err(err).Str("reference", next.Reference).Msg("retry dropped")
			q.finish(next, core.FailedWith(core.FailurePermanent, next.Mail.Recipient()))
		}
	}()
}

// finish publishes the terminal result of an item.
func (q *Queue) finish(item core.MailQueueItem, result core.SendOperationResult) {
	if len(result.Sent) > 0 {
		q.sent.Add(1)
	} else {
		q.failed.Add(1)
	}
	q.publish(core.QueuedMailResult{
		Reference: item.Reference,
		Result:    result,
		Terminal:  true,
		Attempt:   item.RetryCount + 1,
	})
}

func (q *Queue) publish(r core.QueuedMailResult) {
	if q.config.OnResult != nil {
		q.config.OnResult(r)
	}
	q.results.Publish(r)
}
