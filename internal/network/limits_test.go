package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimits_Validate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr bool
	}{
		{"default limits are valid", DefLimits, false},
		{"zero value is an error", Limits{}, true},
		{
			"invalid workers",
			Limits{
				Workers:         -1,
				DownloadWorkers: 4,
				DownloadRetries: 3,
				API:             TierLimit{Burst: 1, Retries: 3},
				CDN:             TierLimit{Burst: 1, Retries: 3},
				Request:         RequestLimit{Messages: 50},
			},
			true,
		},
		{
			"zero burst",
			Limits{
				Workers:         4,
				DownloadWorkers: 4,
				DownloadRetries: 3,
				API:             TierLimit{Burst: 0, Retries: 3},
				CDN:             TierLimit{Burst: 1, Retries: 3},
				Request:         RequestLimit{Messages: 50},
			},
			true,
		},
		{
			"page size out of range",
			Limits{
				Workers:         4,
				DownloadWorkers: 4,
				DownloadRetries: 3,
				API:             TierLimit{Burst: 1, Retries: 3},
				CDN:             TierLimit{Burst: 1, Retries: 3},
				Request:         RequestLimit{Messages: 500},
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLimits_Apply(t *testing.T) {
	t.Run("valid override", func(t *testing.T) {
		l := DefLimits
		other := DefLimits
		other.Workers = 8
		assert.NoError(t, l.Apply(other))
		assert.Equal(t, 8, l.Workers)
	})
	t.Run("invalid override is rejected", func(t *testing.T) {
		l := DefLimits
		assert.Error(t, l.Apply(Limits{}))
		assert.Equal(t, DefLimits, l)
	})
}

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(APIPerMin, 1, 0)
	// 120/min is one event per 500ms.
	assert.InDelta(t, 2.0, float64(l.Limit()), 0.01)
}
