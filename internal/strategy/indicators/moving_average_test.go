package indicators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSentinelBot/internal/ports"
)

func TestMovingAverage_Calculate(t *testing.T) {
	series := closes(100, 102, 101, 103, 104)

	tests := []struct {
		name          string
		config        MovingAverageConfig
		expectedValue float64
		expectError   bool
	}{
		{
			name: "SMA with sufficient data",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 3},
				Type:            SimpleMovingAverage,
			},
			expectedValue: 102.666667, // (101 + 103 + 104) / 3
		},
		{
			name: "EMA with sufficient data",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 3},
				Type:            ExponentialMovingAverage,
			},
			expectedValue: 103.0,
		},
		{
			name: "Insufficient data",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 6},
				Type:            SimpleMovingAverage,
			},
			expectError: true,
		},
		{
			name: "Invalid MA type",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 3},
				Type:            "INVALID",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ma := NewMovingAverage(tt.config)
			value, err := ma.Calculate(context.Background(), series)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expectedValue, value.InexactFloat64(), 0.0001)
		})
	}
}

func TestSMA_InsufficientHistoryIsTyped(t *testing.T) {
	_, err := SMA(closes(1, 2), 3)
	assert.ErrorIs(t, err, ports.ErrInsufficientHistory)
}

func TestMovingAverage_Name(t *testing.T) {
	assert.Equal(t, "SMA", NewMovingAverage(MovingAverageConfig{Type: SimpleMovingAverage}).Name())
	assert.Equal(t, "EMA", NewMovingAverage(MovingAverageConfig{Type: ExponentialMovingAverage}).Name())
}

func TestEMA_ExactDecimal(t *testing.T) {
	// Period 3 gives a multiplier of exactly 0.5: seed SMA(1,2,3)=2, then 2+(5-2)/2.
	v, err := EMA(closes(1, 2, 3, 5), 3)
	require.NoError(t, err)
	assert.Equal(t, "3.5", v.String())

	v, err = EMA(closes(4, 6), 2)
	require.NoError(t, err)
	assert.Equal(t, "5", v.String(), "with exactly period bars EMA equals SMA")
}
