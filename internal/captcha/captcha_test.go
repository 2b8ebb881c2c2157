package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

func solve(t *testing.T, ch core.Challenge) core.Solution {
	t.Helper()
	sol, err := Solve(context.Background(), ch)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	return sol
}

func TestKerberusVerifyConsumesChallenge(t *testing.T) {
	k := NewKerberus("secret", time.Minute)
	defer k.Close()

	ch := k.GenerateChallenge()
	if len(ch.Salts) != baseSalts || ch.DifficultyFactor != DifficultyFactor {
		t.Fatalf("unexpected challenge: %d salts, difficulty %d", len(ch.Salts), ch.DifficultyFactor)
	}

	sol := solve(t, ch)
	if got := k.Verify(sol); got != Success {
		t.Fatalf("first Verify() = %s, want success", got)
	}
	if got := k.Verify(sol); got != Failure {
		t.Errorf("replayed Verify() = %s, want failure", got)
	}
	if k.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", k.Outstanding())
	}
}

func TestKerberusRejectsInvalidSolutions(t *testing.T) {
	k := NewKerberus("secret", time.Minute)
	defer k.Close()

	ch := k.GenerateChallenge()
	sol := solve(t, ch)

	if got := k.Verify(core.Solution{ID: "unknown", Proof: sol.Proof}); got != Failure {
		t.Errorf("unknown id: Verify() = %s", got)
	}

	short := core.Solution{ID: sol.ID, Proof: sol.Proof[:len(sol.Proof)-1]}
	if got := k.Verify(short); got != Failure {
		t.Errorf("short proof: Verify() = %s", got)
	}

	// A challenge solved for another secret's salts does not validate here.
	other := NewKerberus("other-secret", time.Minute)
	defer other.Close()
	foreign := other.GenerateChallenge()
	forged := foreign
	forged.ID = ch.ID
	if k.validate(forged, solve(t, forged)) {
		t.Error("salts signed with another secret validated")
	}

	// The genuine solution still works after the failed attempts.
	if got := k.Verify(sol); got != Success {
		t.Errorf("genuine solution: Verify() = %s", got)
	}
}

func TestKerberusChallengeExpires(t *testing.T) {
	k := NewKerberus("secret", 20*time.Millisecond)
	defer k.Close()

	ch := k.GenerateChallenge()
	sol := solve(t, ch)
	time.Sleep(60 * time.Millisecond)

	if got := k.Verify(sol); got != Failure {
		t.Errorf("expired challenge: Verify() = %s", got)
	}
}

func TestKerberusSaltCountScalesWithLoad(t *testing.T) {
	k := NewKerberus("secret", time.Minute)
	defer k.Close()

	for i := 0; i < 10; i++ {
		k.GenerateChallenge()
	}
	ch := k.GenerateChallenge()
	if want := baseSalts + scalingFactor; len(ch.Salts) != want {
		t.Errorf("salts with 10 outstanding = %d, want %d", len(ch.Salts), want)
	}
}

func TestKerberusConcurrentRedeemSucceedsOnce(t *testing.T) {
	k := NewKerberus("secret", time.Minute)
	defer k.Close()

	sol := solve(t, k.GenerateChallenge())

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if k.Verify(sol) == Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes = %d, want 1", successes.Load())
	}
}

func newRecaptchaServer(t *testing.T, body string, secrets *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if secrets != nil {
			*secrets = append(*secrets, r.PostForm.Get("secret")+"|"+r.PostForm.Get("response"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecaptchaVerify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Result
	}{
		{"passes threshold", `{"success":true,"score":0.9}`, Success},
		{"equal to threshold", `{"success":true,"score":0.5}`, Success},
		{"below threshold", `{"success":true,"score":0.3}`, Failure},
		{"rejected token with high score", `{"success":false,"score":0.9,"error-codes":["timeout-or-duplicate"]}`, Failure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []string
			srv := newRecaptchaServer(t, tt.body, &seen)
			r := NewRecaptcha(srv.Client(), srv.URL, "hermes-test", zerolog.Nop())

			got, err := r.Verify(context.Background(), "s3cret", 0.5, "token")
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Verify() = %s, want %s", got, tt.want)
			}
			if len(seen) != 1 || seen[0] != "s3cret|token" {
				t.Errorf("request params = %v", seen)
			}
		})
	}
}

func TestRecaptchaTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewRecaptcha(srv.Client(), srv.URL, "", zerolog.Nop())
	got, err := r.Verify(context.Background(), "s", 0.5, "t")
	if err == nil || got != Failure {
		t.Errorf("Verify() = %s, %v; want failure with error", got, err)
	}
}

func TestRegistryDispatch(t *testing.T) {
	srv := newRecaptchaServer(t, `{"success":true,"score":0.8}`, nil)
	reg := NewRegistry(NewRecaptcha(srv.Client(), srv.URL, "", zerolog.Nop()), time.Minute)
	defer reg.Close()

	google := core.CaptchaConfig{Provider: core.CaptchaGoogleRecaptcha, SecretKey: "g", Threshold: 0.5}
	kerberus := core.CaptchaConfig{Provider: core.CaptchaKerberus, SecretKey: "k"}

	got, err := reg.Verify(context.Background(), google, core.CaptchaResponse{Provider: core.CaptchaGoogleRecaptcha, Token: "t"})
	if err != nil || got != Success {
		t.Errorf("recaptcha Verify() = %s, %v", got, err)
	}

	_, err = reg.Verify(context.Background(), kerberus, core.CaptchaResponse{Provider: core.CaptchaGoogleRecaptcha, Token: "t"})
	if !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("mismatched variant error = %v, want invalid argument", err)
	}

	if _, err := reg.Challenge(google); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Challenge() for recaptcha config error = %v", err)
	}

	ch, err := reg.Challenge(kerberus)
	if err != nil {
		t.Fatalf("Challenge() error = %v", err)
	}
	if reg.Kerberus("k") != reg.Kerberus("k") {
		t.Error("Kerberus verifiers must be memoized per secret")
	}
	sol := solve(t, ch)
	got, err = reg.Verify(context.Background(), kerberus, core.CaptchaResponse{Provider: core.CaptchaKerberus, Solution: &sol})
	if err != nil || got != Success {
		t.Errorf("kerberus Verify() = %s, %v", got, err)
	}
}
