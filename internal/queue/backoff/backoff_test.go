package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Window(t *testing.T) {
	p := NewPolicy(time.Second, 30*time.Second)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: -1, want: time.Second},
		{attempts: 0, want: time.Second},
		{attempts: 1, want: 2 * time.Second},
		{attempts: 2, want: 4 * time.Second},
		{attempts: 4, want: 16 * time.Second},
		{attempts: 5, want: 30 * time.Second},
		{attempts: 200, want: 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Window(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestPolicy_WindowIsMonotonic(t *testing.T) {
	p := NewPolicy(250*time.Millisecond, time.Hour)

	prev := time.Duration(0)
	for n := 0; n < 64; n++ {
		w := p.Window(n)
		assert.GreaterOrEqual(t, w, prev, "window shrank at attempts=%d", n)
		prev = w
	}
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, -1)
	assert.Equal(t, DefaultBase, p.Base)
	assert.Equal(t, DefaultMax, p.Max)
}

func TestPolicy_Eligible(t *testing.T) {
	p := NewPolicy(time.Second, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("never attempted", func(t *testing.T) {
		assert.True(t, p.Eligible(0, nil, now))
	})

	t.Run("inside window", func(t *testing.T) {
		last := now.Add(-1500 * time.Millisecond)
		assert.False(t, p.Eligible(1, &last, now))
	})

	t.Run("window boundary is eligible", func(t *testing.T) {
		last := now.Add(-2 * time.Second)
		assert.True(t, p.Eligible(1, &last, now))
	})
}
