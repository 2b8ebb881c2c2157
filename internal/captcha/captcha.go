// Package captcha verifies contact form submissions with reCAPTCHA scores
// or Kerberus proof-of-work challenges.
package captcha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Result is the outcome of a verification.
type Result int

const (
	// Failure means the response was rejected.
	Failure Result = iota

	// Success means the response was accepted.
	Success
)

// String returns the string representation of the result.
func (r Result) String() string {
	if r == Success {
		return "success"
	}
	return "failure"
}

// Registry dispatches verification to the variant configured for a form.
// Kerberus verifiers are memoized per secret key so challenges issued by
// one request can be verified by the next.
type Registry struct {
	recaptcha *Recaptcha
	ttl       time.Duration

	mu       sync.Mutex
	kerberus map[string]*Kerberus
}

// NewRegistry creates a registry. A zero ttl means ChallengeTTL.
func NewRegistry(recaptcha *Recaptcha, ttl time.Duration) *Registry {
	return &Registry{
		recaptcha: recaptcha,
		ttl:       ttl,
		kerberus:  make(map[string]*Kerberus),
	}
}

// Kerberus returns the verifier for a secret key, creating it on first use.
func (r *Registry) Kerberus(secret string) *Kerberus {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kerberus[secret]
	if !ok {
		k = NewKerberus(secret, r.ttl)
		r.kerberus[secret] = k
	}
	return k
}

// Verify checks resp against cfg. A response of a different variant than the
// config is an invalid argument.
func (r *Registry) Verify(ctx context.Context, cfg core.CaptchaConfig, resp core.CaptchaResponse) (Result, error) {
	if cfg.Provider != resp.Provider {
		return Failure, fmt.Errorf("%w: form uses %s captcha but config expects %s",
			core.ErrInvalidArgument, resp.Provider, cfg.Provider)
	}

	switch cfg.Provider {
	case core.CaptchaGoogleRecaptcha:
		return r.recaptcha.Verify(ctx, cfg.SecretKey, cfg.Threshold, resp.Token)
	case core.CaptchaKerberus:
		if resp.Solution == nil {
			return Failure, fmt.Errorf("%w: missing solution", core.ErrInvalidArgument)
		}
		return r.Kerberus(cfg.SecretKey).Verify(*resp.Solution), nil
	default:
		return Failure, fmt.Errorf("%w: unsupported captcha provider %q", core.ErrInvalidArgument, cfg.Provider)
	}
}

// Challenge issues a Kerberus challenge for cfg.
func (r *Registry) Challenge(cfg core.CaptchaConfig) (core.Challenge, error) {
	if cfg.Provider != core.CaptchaKerberus {
		return core.Challenge{}, fmt.Errorf("%w: challenges require %s captcha", core.ErrInvalidArgument, core.CaptchaKerberus)
	}
	return r.Kerberus(cfg.SecretKey).GenerateChallenge(), nil
}

// Close stops every Kerberus expiry loop.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for secret, k := range r.kerberus {
		k.Close()
		delete(r.kerberus, secret)
	}
}
