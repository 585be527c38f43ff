package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{
			name:    "first retry",
			attempt: 1,
			want:    90 * time.Second,
		},
		{
			name:    "second retry",
			attempt: 2,
			want:    135 * time.Second,
		},
		{
			name:    "attempt below one is clamped",
			attempt: 0,
			want:    90 * time.Second,
		},
		{
			name:    "negative attempt is clamped",
			attempt: -3,
			want:    90 * time.Second,
		},
		{
			name:    "large attempt hits the cap",
			attempt: 10,
			want:    600 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.attempt))
		})
	}
}

func TestBackoff_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		delay := Backoff(attempt)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		assert.GreaterOrEqual(t, delay, 60*time.Second)
		assert.LessOrEqual(t, delay, 600*time.Second)
		prev = delay
	}
}
