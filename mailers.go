package hermes

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LotuxPunk/Hermes/internal/core"
	"github.com/LotuxPunk/Hermes/internal/queue"
)

// mailerRegistry holds one mailer per credential identity. Entries are never
// evicted; the set of identities is bounded by the loaded configs.
type mailerRegistry struct {
	factory  MailerFactory
	queue    *queue.Config
	onResult func(core.QueuedMailResult)
	logger   zerolog.Logger

	mu      sync.Mutex
	mailers map[string]core.Mailer
	queues  []*queue.Queue
	closed  bool
}

func newMailerRegistry(factory MailerFactory, queueConfig *queue.Config, onResult func(core.QueuedMailResult), logger zerolog.Logger) *mailerRegistry {
	return &mailerRegistry{
		factory:  factory,
		queue:    queueConfig,
		onResult: onResult,
		logger:   logger,
		mailers:  make(map[string]core.Mailer),
	}
}

// get returns the mailer of the credentials' identity, creating it on first
// use. With queued delivery the mailer is wrapped in its own queue.
func (r *mailerRegistry) get(ctx context.Context, creds core.Credentials) (core.Mailer, error) {
	id := creds.Identifier()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, core.ErrClosed
	}
	if m, ok := r.mailers[id]; ok {
		return m, nil
	}

	m, err := r.factory(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("create %s mailer: %w", creds.Provider, err)
	}

	if r.queue != nil {
		cfg := *r.queue
		cfg.OnResult = r.onResult
		q := queue.New(m, cfg, r.logger.With().Str("provider", creds.Provider.String()).Logger())
		r.queues = append(r.queues, q)
		m = queue.NewQueuedMailer(q)
	}

	r.mailers[id] = m
	r.logger.Info().Str("provider", creds.Provider.String()).Int("mailers", len(r.mailers)).Msg("mailer created")
	return m, nil
}

// stats sums the counters of every queue.
func (r *mailerRegistry) stats() queue.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total queue.Stats
	for _, q := range r.queues {
		s := q.Stats()
		total.Queued += s.Queued
		total.Sent += s.Sent
		total.Failed += s.Failed
		total.PendingRetries += s.PendingRetries
		total.Backlog += s.Backlog
		total.Workers += s.Workers
		total.RateLimit += s.RateLimit
	}
	return total
}

// shutdown stops every queue concurrently. No mailer is created afterwards.
func (r *mailerRegistry) shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	queues := r.queues
	r.mu.Unlock()

	var g errgroup.Group
	for _, q := range queues {
		g.Go(func() error {
			return q.Shutdown(ctx)
		})
	}
	return g.Wait()
}
