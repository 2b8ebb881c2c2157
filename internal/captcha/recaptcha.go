package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRecaptchaEndpoint is Google's verification endpoint.
const DefaultRecaptchaEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// RecaptchaResponse is the body returned by the verification endpoint.
type RecaptchaResponse struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Recaptcha verifies score-based reCAPTCHA tokens.
type Recaptcha struct {
	client    *http.Client
	endpoint  string
	userAgent string
	logger    zerolog.Logger
}

// NewRecaptcha creates a verifier. A nil client gets a 10s timeout and an
// empty endpoint means DefaultRecaptchaEndpoint.
func NewRecaptcha(client *http.Client, endpoint, userAgent string, logger zerolog.Logger) *Recaptcha {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if endpoint == "" {
		endpoint = DefaultRecaptchaEndpoint
	}
	return &Recaptcha{
		client:    client,
		endpoint:  endpoint,
		userAgent: userAgent,
		logger:    logger.With().Str("captcha", "recaptcha").Logger(),
	}
}

// Verify succeeds only when the service accepts the token and the score
// reaches threshold.
func (r *Recaptcha) Verify(ctx context.Context, secret string, threshold float64, token string) (Result, error) {
	resp, err := r.siteVerify(ctx, secret, token)
	if err != nil {
		return Failure, err
	}
	if !resp.Success || resp.Score < threshold {
		r.logger.Info().
			Bool("success", resp.Success).
			Float64("score", resp.Score).
			Float64("threshold", threshold).
			Strs("error_codes", resp.ErrorCodes).
			Msg("captcha rejected")
		return Failure, nil
	}
	return Success, nil
}

func (r *Recaptcha) siteVerify(ctx context.Context, secret, token string) (*RecaptchaResponse, error) {
	form := url.Values{}
	form.Set("secret", secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	httpResp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify captcha: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify captcha: unexpected status %d", httpResp.StatusCode)
	}

	var body RecaptchaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode captcha response: %w", err)
	}
	return &body, nil
}
