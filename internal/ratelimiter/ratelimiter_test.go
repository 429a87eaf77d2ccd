package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeWait},
		{in: "wait", want: ModeWait},
		{in: "reject", want: ModeReject},
		{in: "drop", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestUnlimited verifies a zero rate never limits.
func TestUnlimited(t *testing.T) {
	limiter := New(ModeReject, Limit{}, nil)
	for i := 0; i < 10000; i++ {
		require.NoError(t, limiter.Acquire(context.Background(), "read"))
	}
}

// TestRejectMode verifies the burst is served and the next request fails.
func TestRejectMode(t *testing.T) {
	limiter := New(ModeReject, Limit{RequestsPerSecond: 1, Burst: 3}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Acquire(ctx, "read"), "request %d within burst", i)
	}
	assert.ErrorIs(t, limiter.Acquire(ctx, "read"), ErrLimited)
}

// TestPerKeyBuckets verifies keys with their own bucket do not drain the
// shared one.
func TestPerKeyBuckets(t *testing.T) {
	limiter := New(ModeReject, Limit{RequestsPerSecond: 1, Burst: 1}, map[string]Limit{
		"write": {RequestsPerSecond: 1, Burst: 1},
	})
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx, "write"))
	assert.ErrorIs(t, limiter.Acquire(ctx, "write"), ErrLimited)

	require.NoError(t, limiter.Acquire(ctx, "read"))
	assert.ErrorIs(t, limiter.Acquire(ctx, "list"), ErrLimited, "read and list share the fallback bucket")
}

// TestWaitModeRespectsContext verifies waiting stops with the context.
func TestWaitModeRespectsContext(t *testing.T) {
	limiter := New(ModeWait, Limit{RequestsPerSecond: 0.1, Burst: 1}, nil)
	require.NoError(t, limiter.Acquire(context.Background(), "read"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Acquire(ctx, "read"))
}

// TestAcquireNCapsAtBurst verifies a large batch is still satisfiable.
func TestAcquireNCapsAtBurst(t *testing.T) {
	limiter := New(ModeReject, Limit{RequestsPerSecond: 10, Burst: 5}, nil)
	assert.NoError(t, limiter.AcquireN(context.Background(), "batch", 500))
	assert.Less(t, limiter.Tokens("batch"), 1.0)
}
