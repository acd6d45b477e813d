package consultation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiplier(t *testing.T) {
	tests := map[string]int{
		"MANE": 1, "NOCTE": 1, "BD": 2, "TDS": 3, "QDS": 4,
		"HOURLY": 24, "Q2H": 12, "Q4H": 6, "Q6H": 4, "Q8H": 3,
		"tds": 3, " bd ": 2, "unknown": 1, "": 1,
	}
	for code, want := range tests {
		assert.Equal(t, want, Multiplier(code), "code %q", code)
	}
}

func TestTotalQuantity(t *testing.T) {
	assert.Equal(t, 15, TotalQuantity(1, 5, "TDS"))
	assert.Equal(t, 6, TotalQuantity(2, 3, "unknown"))
	assert.Equal(t, 0, TotalQuantity(0, 3, "BD"))
}

func TestFrequencyCodesAreAllKnown(t *testing.T) {
	codes := FrequencyCodes()
	assert.Len(t, codes, len(frequencyMultipliers))
	for _, c := range codes {
		_, ok := frequencyMultipliers[c]
		assert.True(t, ok, c)
	}
}

func TestPrescribedMedication_TotalQuantityFollowsEdits(t *testing.T) {
	m := PrescribedMedication{QuantityPerDose: 2, DurationDays: 5, FrequencyCode: "BD"}
	assert.Equal(t, 20, m.TotalQuantity())
	m.FrequencyCode = "QDS"
	assert.Equal(t, 40, m.TotalQuantity())
}
