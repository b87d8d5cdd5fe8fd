package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossfusion/swapd/internal/core/domain"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    domain.SwapStatus
		to      domain.SwapStatus
		allowed bool
	}{
		{domain.SwapStatusPending, domain.SwapStatusActive, true},
		{domain.SwapStatusPending, domain.SwapStatusCompleted, false},
		{domain.SwapStatusPending, domain.SwapStatusRefunded, false},
		{domain.SwapStatusPending, domain.SwapStatusFailed, true},
		{domain.SwapStatusActive, domain.SwapStatusCompleted, true},
		{domain.SwapStatusActive, domain.SwapStatusRefunded, true},
		{domain.SwapStatusActive, domain.SwapStatusFailed, true},
		{domain.SwapStatusActive, domain.SwapStatusPending, false},
		{domain.SwapStatusCompleted, domain.SwapStatusRefunded, false},
		{domain.SwapStatusRefunded, domain.SwapStatusCompleted, false},
		{domain.SwapStatusFailed, domain.SwapStatusFailed, false},
	}
	for _, tt := range tests {
		swap := domain.Swap{Status: tt.from}
		require.Equal(t, tt.allowed, swap.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	swap := domain.Swap{ExpiresAt: now}
	require.True(t, swap.Expired(now))
	require.True(t, swap.Expired(now.Add(time.Second)))
	require.False(t, swap.Expired(now.Add(-time.Second)))

	require.False(t, (&domain.Swap{}).Expired(now))
}
