package captcha

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"math/bits"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/LotuxPunk/Hermes/internal/core"
)

const (
	// ChallengeTTL is how long an issued challenge can be answered.
	ChallengeTTL = 10 * time.Minute

	// DifficultyFactor is the expected number of hashes per salt.
	DifficultyFactor = 5000

	baseSalts     = 10
	scalingFactor = 20
)

// Kerberus issues and verifies proof-of-work challenges for one secret key.
//
// Each salt is a random seed followed by an HMAC of the seed under the
// secret, so only challenges issued with the same secret validate. A proof
// is one nonce per salt such that SHA-256("id:salt:nonce") starts with at
// least ceil(log2(difficultyFactor)) zero bits.
type Kerberus struct {
	secret []byte
	cache  *ttlcache.Cache[string, core.Challenge]

	// mu makes lookup, validation and removal one step so a solution can
	// be redeemed only once.
	mu sync.Mutex
}

// NewKerberus creates a verifier and starts its expiry loop. Call Close to stop it.
func NewKerberus(secret string, ttl time.Duration) *Kerberus {
	if ttl <= 0 {
		ttl = ChallengeTTL
	}
	cache := ttlcache.New[string, core.Challenge](
		ttlcache.WithTTL[string, core.Challenge](ttl),
		ttlcache.WithDisableTouchOnHit[string, core.Challenge](),
	)
	go cache.Start()

	return &Kerberus{secret: []byte(secret), cache: cache}
}

// GenerateChallenge issues a new challenge. The salt count grows with the
// number of outstanding challenges.
func (k *Kerberus) GenerateChallenge() core.Challenge {
	count := k.Outstanding()
	if count < 1 {
		count = 1
	}
	saltCount := baseSalts + int(math.Log10(float64(count))*scalingFactor)

	salts := make([]string, saltCount)
	for i := range salts {
		salts[i] = k.newSalt()
	}

	challenge := core.Challenge{
		ID:               uuid.NewString(),
		Salts:            salts,
		DifficultyFactor: DifficultyFactor,
	}
	k.cache.Set(challenge.ID, challenge, ttlcache.DefaultTTL)
	return challenge
}

// Verify checks a solution against its cached challenge and consumes the
// challenge on success. Unknown, expired and already used ids fail.
func (k *Kerberus) Verify(solution core.Solution) Result {
	k.mu.Lock()
	defer k.mu.Unlock()

	item := k.cache.Get(solution.ID)
	if item == nil {
		return Failure
	}
	if !k.validate(item.Value(), solution) {
		return Failure
	}
	k.cache.Delete(solution.ID)
	return Success
}

// Outstanding returns the number of issued, unanswered challenges.
func (k *Kerberus) Outstanding() int {
	return k.cache.Len()
}

// Close stops the expiry loop.
func (k *Kerberus) Close() {
	k.cache.Stop()
}

func (k *Kerberus) newSalt() string {
	seed := strings.ReplaceAll(uuid.NewString(), "-", "")
	return seed + "." + k.sign(seed)
}

func (k *Kerberus) sign(seed string) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(seed))
	return hex.EncodeToString(mac.Sum(nil)[:12])
}

func (k *Kerberus) validate(challenge core.Challenge, solution core.Solution) bool {
	if solution.ID != challenge.ID || len(solution.Proof) != len(challenge.Salts) {
		return false
	}
	zeros := requiredZeroBits(challenge.DifficultyFactor)
	for i, salt := range challenge.Salts {
		seed, sig, ok := strings.Cut(salt, ".")
		if !ok || !hmac.Equal([]byte(sig), []byte(k.sign(seed))) {
			return false
		}
		if leadingZeroBits(proofHash(challenge.ID, salt, solution.Proof[i])) < zeros {
			return false
		}
	}
	return true
}

// Solve computes a valid solution for a challenge. It is what a client runs
// before submitting a form.
func Solve(ctx context.Context, challenge core.Challenge) (core.Solution, error) {
	zeros := requiredZeroBits(challenge.DifficultyFactor)
	proof := make([]uint64, len(challenge.Salts))
	for i, salt := range challenge.Salts {
		for nonce := uint64(0); ; nonce++ {
			if nonce%4096 == 0 && ctx.Err() != nil {
				return core.Solution{}, ctx.Err()
			}
			if leadingZeroBits(proofHash(challenge.ID, salt, nonce)) >= zeros {
				proof[i] = nonce
				break
			}
			if nonce == math.MaxUint64 {
				return core.Solution{}, errors.New("no solution found")
			}
		}
	}
	return core.Solution{ID: challenge.ID, Proof: proof}, nil
}

func proofHash(id, salt string, nonce uint64) [sha256.Size]byte {
	return sha256.Sum256([]byte(id + ":" + salt + ":" + strconv.FormatUint(nonce, 10)))
}

func requiredZeroBits(difficulty uint32) int {
	if difficulty <= 1 {
		return 0
	}
	return bits.Len32(difficulty - 1)
}

func leadingZeroBits(sum [sha256.Size]byte) int {
	n := 0
	for _, b := range sum {
		if b == 0 {
			n += 8
			continue
		}
		return n + bits.LeadingZeros8(b)
	}
	return n
}
