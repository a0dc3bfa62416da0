package observability

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{
			name:            "with custom timeout",
			timeout:         10 * time.Second,
			expectedTimeout: 10 * time.Second,
		},
		{
			name:            "with zero timeout uses default",
			timeout:         0,
			expectedTimeout: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(InfoLevel, &bytes.Buffer{})

			sm := NewShutdownManager(logger, tt.timeout)
			require.NotNil(t, sm)
			assert.Equal(t, tt.expectedTimeout, sm.timeout)
			assert.Empty(t, sm.funcs)
		})
	}
}

func TestRegisterShutdownFunc(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, 5*time.Second)

	sm.Register(func(ctx context.Context) error { return nil })
	sm.Register(func(ctx context.Context) error { return nil })
	assert.Len(t, sm.funcs, 2)

	// Concurrent registration is safe.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Register(func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()
	assert.Len(t, sm.funcs, 12)
}
