package render

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackNumberFormat(t *testing.T) {
	gen := NewFallbackNumberGenerator()
	number, err := gen.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(number, "CERT-"))
	assert.Len(t, strings.Split(number, "-"), 4)
}

func TestFallbackNumbersUniqueAcrossLargeRun(t *testing.T) {
	gen := NewFallbackNumberGenerator()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		number, err := gen.Next(context.Background())
		require.NoError(t, err)
		if _, dup := seen[number]; dup {
			t.Fatalf("duplicate certificate number %s at iteration %d", number, i)
		}
		seen[number] = struct{}{}
	}
}

func TestFallbackNumbersUniqueConcurrently(t *testing.T) {
	gen := NewFallbackNumberGenerator()
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				number, err := gen.Next(context.Background())
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				_, dup := seen[number]
				seen[number] = struct{}{}
				mu.Unlock()
				if dup {
					t.Errorf("duplicate certificate number %s", number)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8*500)
}
