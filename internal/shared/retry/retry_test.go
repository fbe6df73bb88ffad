package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "typed transient", err: Transient("embed", errors.New("boom")), want: true},
		{name: "typed permanent", err: Permanent("embed", errors.New("http status 503")), want: false},
		{name: "wrapped transient", err: fmt.Errorf("stage: %w", Transient("index", errors.New("x"))), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "5xx message", err: errors.New("upstream http status 502"), want: true},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "eof", err: fmt.Errorf("read body: %w", io.EOF), want: true},
		{name: "plain", err: errors.New("invalid input"), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int
	p := Policy{MaxAttempts: 4, OnRetry: func(attempt int, err error) { retried = append(retried, attempt) }, sleep: noSleep}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient("op", errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retried)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5, sleep: noSleep}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent("op", errors.New("bad request"))
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoBoundsAttempts(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, sleep: noSleep}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Transient("op", errors.New("still down"))
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	var te *TransientError
	require.ErrorAs(t, err, &te)
}

func TestBackoffCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	require.Equal(t, time.Second, p.backoff(1))
	require.Equal(t, 2*time.Second, p.backoff(2))
	require.Equal(t, 3*time.Second, p.backoff(3))
	require.Equal(t, 3*time.Second, p.backoff(10))
}
