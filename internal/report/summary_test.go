package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummary_Empty(t *testing.T) {
	assert.Equal(t, "no records yet\n", Summary(nil))
}

func TestSummary(t *testing.T) {
	records := []map[string]string{
		{
			"date":             "2025-05-10",
			"totalSteps":       "8000",
			"sleepTimeSeconds": "28800",
			"restingHeartRate": "55",
			"hrvStatus":        "BALANCED",
		},
		{
			"date":                       "2025-05-11",
			"totalSteps":                 "10000",
			"restingHeartRate":           "57",
			"bodyBatteryMostRecentValue": "68",
		},
	}

	summary := Summary(records)

	assert.Contains(t, summary, "last 2 day(s)")
	assert.Contains(t, summary, "2025-05-10  steps: 8000  sleep: 8h00m  rhr: 55  hrv: balanced")
	assert.Contains(t, summary, "2025-05-11  steps: 10000  rhr: 57  bb: 68")
	assert.Contains(t, summary, "steps: 9000")
	assert.Contains(t, summary, "sleep: 8h00m")
	assert.Contains(t, summary, "resting hr: 56.0")
}

func TestSummary_IgnoresMalformedCells(t *testing.T) {
	records := []map[string]string{
		{"date": "2025-05-10", "totalSteps": "not-a-number"},
	}
	summary := Summary(records)
	assert.Contains(t, summary, "2025-05-10\n")
	assert.NotContains(t, summary, "steps:")
}

func TestSummary_AveragesSkipMissingDays(t *testing.T) {
	records := []map[string]string{
		{"date": "2025-05-10", "totalSteps": "8000"},
		{"date": "2025-05-11"},
	}
	summary := Summary(records)
	// the day without steps must not drag the average down
	assert.Contains(t, summary, "steps: 8000\n")
}
