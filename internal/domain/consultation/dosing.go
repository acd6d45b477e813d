package consultation

import "strings"

// Daily dose counts keyed by upper-case frequency code.
var frequencyMultipliers = map[string]int{
	"MANE":   1,
	"NOCTE":  1,
	"BD":     2,
	"TDS":    3,
	"QDS":    4,
	"HOURLY": 24,
	"Q2H":    12,
	"Q4H":    6,
	"Q6H":    4,
	"Q8H":    3,
}

// FrequencyCodes lists the recognised codes.
func FrequencyCodes() []string {
	return []string{"MANE", "NOCTE", "BD", "TDS", "QDS", "HOURLY", "Q2H", "Q4H", "Q6H", "Q8H"}
}

// Multiplier returns the number of doses per day for code. Unknown codes
// count as once daily.
func Multiplier(code string) int {
	if m, ok := frequencyMultipliers[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return m
	}
	return 1
}

// TotalQuantity is the dispensed quantity for a course. It is derived on
// demand and never stored.
func TotalQuantity(quantityPerDose, durationDays int, frequencyCode string) int {
	return quantityPerDose * durationDays * Multiplier(frequencyCode)
}
