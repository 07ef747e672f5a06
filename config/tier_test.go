package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		tier    Tier
		tables  int
		records int
	}{
		{"small", Small, 1, 500},
		{"medium", Medium, 3, 3000},
		{"", Medium, 3, 3000},
		{"LARGE", Large, 5, 7000},
		{" large ", Large, 5, 7000},
	}

	for _, tt := range tests {
		tier, err := ParseTier(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.tier, tier)
		assert.Equal(t, tt.tables, tier.Tables())
		assert.Equal(t, tt.records, tier.Records())
	}
}

func TestParseTierUnknown(t *testing.T) {
	_, err := ParseTier("xl")
	assert.ErrorIs(t, err, ErrUnknownTier)
	assert.Equal(t, "Tier(0)", Tier(0).String())
}
