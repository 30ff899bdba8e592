package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreditCents(t *testing.T) {
	tests := []struct {
		name      string
		nano      int64
		cents     int64
		remainder int64
	}{
		{"zero", 0, 0, 0},
		{"exact cent", 10_000_000, 1, 0},
		{"sub cent", 4_000_000, 0, 4_000_000},
		{"cent and a fraction", 14_000_000, 1, 4_000_000},
		{"one dollar", 1_000_000_000, 100, 0},
		{"negative truncates toward zero", -14_000_000, -1, -4_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := FromNano(tt.nano)
			assert.Equal(t, tt.cents, c.Cents())
			assert.Equal(t, tt.remainder, c.Remainder().Nano())
		})
	}
}

func TestCreditConversionsRoundTrip(t *testing.T) {
	c := FromCents(12345)
	assert.Equal(t, int64(12345), c.Cents())
	assert.Equal(t, Credit(0), c.Remainder())
	assert.Equal(t, int64(12345)*10_000_000, c.Nano())
}

func TestCreditString(t *testing.T) {
	assert.Equal(t, "$1.50", FromCents(150).String())
	assert.Equal(t, "-$0.25", FromCents(-25).String())
	assert.Equal(t, "$0.00", Credit(4_000_000).String())
}
