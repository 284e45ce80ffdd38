package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

const keyIngestSource = "royalty:ingest:source:%s"

// IngestLimiter throttles usage-event ingestion per reporting source. A nil
// limiter allows everything; limiting is an opt-in deployment concern.
type IngestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewIngestLimiter(client *redis.Client, rate float64, burst int) *IngestLimiter {
	if client == nil || rate <= 0 || burst <= 0 {
		return nil
	}
	return &IngestLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IngestLimiter) Allow(ctx context.Context, source string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}
	result, err := l.bucket.Allow(ctx, fmt.Sprintf(keyIngestSource, source), l.rate, l.burst)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}
