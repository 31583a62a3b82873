package retrypolicy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkRetryable(t *testing.T) {
	base := errors.New("provider down")

	assert.Nil(t, MarkRetryable(nil))
	assert.Nil(t, MarkRetryableAfter(nil, time.Second))

	marked := MarkRetryable(base)
	assert.True(t, IsRetryable(marked))
	assert.ErrorIs(t, marked, base)
	assert.Equal(t, base.Error(), marked.Error())

	wrapped := errors.Join(errors.New("outer"), marked)
	assert.True(t, IsRetryable(wrapped), "marker must survive wrapping")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "marked", err: MarkRetryable(errors.New("boom")), want: true},
		{name: "marked with delay", err: MarkRetryableAfter(errors.New("slow down"), time.Second), want: true},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "marked but canceled underneath", err: MarkRetryable(context.Canceled), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetryAfter(t *testing.T) {
	_, ok := retryAfter(MarkRetryable(errors.New("boom")))
	assert.False(t, ok)

	after, ok := retryAfter(MarkRetryableAfter(errors.New("slow down"), 2*time.Second))
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, after)
}

func TestPolicy_ApplyDefaults(t *testing.T) {
	var p Policy
	p.ApplyDefaults()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultBaseBackoff, p.BaseBackoff)

	custom := Policy{MaxAttempts: 5, BaseBackoff: time.Second}
	custom.ApplyDefaults()
	assert.Equal(t, 5, custom.MaxAttempts)
	assert.Equal(t, time.Second, custom.BaseBackoff)
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseBackoff: time.Millisecond}

	calls := 0
	err := p.Execute(context.Background(), nil, "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseBackoff: time.Millisecond}

	calls := 0
	err := p.Execute(context.Background(), nil, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return MarkRetryable(errors.New("transient"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_NonRetryableSurfacesImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseBackoff: time.Millisecond}
	fatal := errors.New("bad request")

	calls := 0
	err := p.Execute(context.Background(), nil, "op", func(context.Context) error {
		calls++
		return fatal
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseBackoff: time.Millisecond}
	transient := errors.New("still down")

	calls := 0
	err := p.Execute(context.Background(), nil, "embed", func(context.Context) error {
		calls++
		return MarkRetryable(transient)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, transient)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Contains(t, err.Error(), "embed")
}

func TestExecute_HonorsProviderDelay(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseBackoff: time.Minute}

	start := time.Now()
	calls := 0
	err := p.Execute(context.Background(), nil, "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return MarkRetryableAfter(errors.New("slow down"), 5*time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Less(t, time.Since(start), 30*time.Second,
		"provider delay must override the computed backoff")
}

func TestExecute_CancellationStopsBackoffWait(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseBackoff: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Execute(ctx, nil, "op", func(context.Context) error {
		calls++
		return MarkRetryable(errors.New("transient"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
