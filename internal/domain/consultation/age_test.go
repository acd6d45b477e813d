package consultation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestCalculateAge(t *testing.T) {
	tests := []struct {
		name string
		dob  string
		now  string
		want Age
	}{
		{"exact birthday", "2000-03-15", "2024-03-15", Age{Years: 24}},
		{"day before birthday", "2000-03-15", "2024-03-14", Age{Years: 23, Months: 11, Days: 28}},
		{"same day", "2024-05-01", "2024-05-01", Age{}},
		{"month end clamps", "2000-01-31", "2000-03-01", Age{Months: 1, Days: 1}},
		{"leap day before anniversary", "2000-02-29", "2024-02-28", Age{Years: 23, Months: 11, Days: 30}},
		{"leap day in common year", "2000-02-29", "2023-03-01", Age{Years: 23, Days: 1}},
		{"future", "2030-01-01", "2024-01-01", Age{IsFuture: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateAge(date(t, tt.dob), date(t, tt.now)))
		})
	}
}

func TestCalculateAge_IgnoresTimeOfDay(t *testing.T) {
	dob := time.Date(2000, 3, 15, 23, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, Age{Years: 24}, CalculateAge(dob, now))
}

func TestAge_String(t *testing.T) {
	assert.Equal(t, "3 years 2 months 1 days", Age{Years: 3, Months: 2, Days: 1}.String())
	assert.Contains(t, Age{IsFuture: true}.String(), "future")
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := ParseDate("15/03/2000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
