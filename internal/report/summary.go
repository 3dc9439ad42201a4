package report

import (
	"fmt"
	"strconv"
	"strings"
)

// Summary renders a plain-text digest of the last days of stored
// records: one line per day with the headline numbers, then averages
// over the shown window. Built for terminals and chat messages, not
// for machines.
func Summary(records []map[string]string) string {
	if len(records) == 0 {
		return "no records yet\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("health summary, last %d day(s):\n\n", len(records)))

	var (
		stepsSum, stepsCount float64
		sleepSum, sleepCount float64
		rhrSum, rhrCount     float64
	)

	for _, record := range records {
		sb.WriteString(record["date"])

		if steps, ok := numberCell(record, "totalSteps"); ok {
			sb.WriteString(fmt.Sprintf("  steps: %.0f", steps))
			stepsSum += steps
			stepsCount++
		}
		if sleepSeconds, ok := numberCell(record, "sleepTimeSeconds"); ok {
			sb.WriteString(fmt.Sprintf("  sleep: %s", sleepDuration(sleepSeconds)))
			sleepSum += sleepSeconds
			sleepCount++
		}
		if rhr, ok := numberCell(record, "restingHeartRate"); ok {
			sb.WriteString(fmt.Sprintf("  rhr: %.0f", rhr))
			rhrSum += rhr
			rhrCount++
		}
		if bb, ok := numberCell(record, "bodyBatteryMostRecentValue"); ok {
			sb.WriteString(fmt.Sprintf("  bb: %.0f", bb))
		}
		if status := record["hrvStatus"]; status != "" {
			sb.WriteString(fmt.Sprintf("  hrv: %s", strings.ToLower(status)))
		}

		sb.WriteString("\n")
	}

	sb.WriteString("\naverages:\n")
	if stepsCount > 0 {
		sb.WriteString(fmt.Sprintf("  steps: %.0f\n", stepsSum/stepsCount))
	}
	if sleepCount > 0 {
		sb.WriteString(fmt.Sprintf("  sleep: %s\n", sleepDuration(sleepSum/sleepCount)))
	}
	if rhrCount > 0 {
		sb.WriteString(fmt.Sprintf("  resting hr: %.1f\n", rhrSum/rhrCount))
	}

	return sb.String()
}

func numberCell(record map[string]string, field string) (float64, bool) {
	cell, ok := record[field]
	if !ok || cell == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func sleepDuration(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%dh%02dm", total/3600, (total%3600)/60)
}
