package render

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// NumberSource issues certificate numbers guaranteed unique by a backing
// store. The remote generator may fail; callers fall back to a local
// generator that cannot collide within one process.
type NumberSource interface {
	Next(ctx context.Context) (string, error)
}

// FallbackNumberGenerator builds numbers from the current time, a random
// suffix and a monotonically increasing sequence. The sequence component
// guarantees two calls never produce the same number even within one
// millisecond, so a 10k-student job with the remote generator down still
// gets distinct numbers throughout.
type FallbackNumberGenerator struct {
	seq atomic.Uint64
}

// NewFallbackNumberGenerator constructs the generator.
func NewFallbackNumberGenerator() *FallbackNumberGenerator {
	return &FallbackNumberGenerator{}
}

// Next returns a locally unique certificate number.
func (g *FallbackNumberGenerator) Next(_ context.Context) (string, error) {
	seq := g.seq.Add(1)
	return fmt.Sprintf("CERT-%d-%d-%s", time.Now().UnixMilli(), seq, randomSuffix()), nil
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
