package queue

import (
	"math"
	"math/rand"
	"time"

	"github.com/orchard-dev/orchard/internal/config"
	"github.com/orchard-dev/orchard/internal/db"
)

// Score computes the age-weighted priority score used to order pending
// candidates: score = w_p * P + w_a * min(age/ceiling, 1). Old LOW tasks
// eventually overtake fresh MEDIUM tasks, so no class starves.
func Score(q config.QueueConfig, priority db.Priority, age time.Duration) float64 {
	frac := age.Seconds() / float64(q.AgeCeilingSeconds)
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	return q.PriorityWeight*priority.Weight() + q.AgeWeight*frac
}

// RetryDelay computes the exponential back-off applied before a retried
// task becomes eligible again: base * 2^retryCount seconds, capped, with
// uniform jitter of ±RetryJitter. A nil rnd disables jitter, which keeps
// tests deterministic.
func RetryDelay(q config.QueueConfig, retryCount int, rnd *rand.Rand) time.Duration {
	delay := float64(q.RetryBaseSeconds) * math.Pow(2, float64(retryCount))
	if capped := float64(q.RetryCapSeconds); delay > capped {
		delay = capped
	}
	if rnd != nil && q.RetryJitter > 0 {
		delay *= 1 + q.RetryJitter*(2*rnd.Float64()-1)
	}
	return time.Duration(delay * float64(time.Second))
}

// Permanent error categories reported by agents. Anything outside this
// set is treated as transient and retried.
var permanentCategories = map[string]bool{
	"authentication": true,
	"permission":     true,
	"syntax":         true,
	"fatal":          true,
}

// Retryable reports whether an agent-supplied error category should be
// retried. Unknown categories default to retryable.
func Retryable(category string) bool {
	return !permanentCategories[category]
}
