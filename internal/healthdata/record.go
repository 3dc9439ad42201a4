package healthdata

import (
	"fmt"
	"math"
	"strconv"
)

// field categories, in the fixed order used for the stats store header
var (
	dateFields = []string{
		"date", "year", "month", "day", "dayOfWeek",
	}

	baseFields = []string{
		"totalDistanceMeters", "totalKilocalories",
		"activeKilocalories", "bmrKilocalories", "restingHeartRate", "maxHeartRate",
		"minHeartRate", "lastSevenDaysAvgRestingHeartRate", "totalSteps",
		"dailyStepGoal", "floorsAscended", "floorsDescended",
	}

	activityFields = []string{
		"activeSeconds", "sedentarySeconds", "highlyActiveSeconds",
		"moderateIntensityMinutes", "vigorousIntensityMinutes",
	}

	sleepFields = []string{
		"sleepTimeSeconds", "deepSleepSeconds", "lightSleepSeconds",
		"remSleepSeconds", "awakeSleepSeconds", "sleepingSeconds",
	}

	stressFields = []string{
		"averageStressLevel", "maxStressLevel", "stressQualifier",
		"restStressDuration", "lowStressDuration", "mediumStressDuration",
		"highStressDuration", "stressPercentage",
	}

	bodyFields = []string{
		"weightInGrams", "bmi", "bodyFatPercentage", "bodyWater", "boneMass",
		"muscleMass",
	}

	respirationFields = []string{
		"avgWakingRespirationValue", "latestRespirationValue",
		"highestRespirationValue", "lowestRespirationValue",
	}

	hrvFields = []string{
		"averageHrvValue", "maxHrvValue", "minHrvValue", "hrRestingLowHrvValue",
		"weeklyAvgHrv", "lastNightAvgHrv", "lastNight5MinHighHrv", "hrvStatus",
	}

	bodyBatteryFields = []string{
		"bodyBatteryChargedValue", "bodyBatteryDrainedValue",
		"bodyBatteryHighestValue", "bodyBatteryLowestValue", "bodyBatteryMostRecentValue",
	}

	spo2Fields = []string{
		"averageSpo2", "latestSpo2", "lowestSpo2",
	}
)

var (
	canonicalFields    []string
	canonicalFieldsSet map[string]bool
)

func init() {
	for _, group := range [][]string{
		dateFields, baseFields, activityFields, sleepFields, stressFields,
		bodyFields, respirationFields, hrvFields, bodyBatteryFields, spo2Fields,
	} {
		canonicalFields = append(canonicalFields, group...)
	}
	canonicalFieldsSet = make(map[string]bool, len(canonicalFields))
	for _, f := range canonicalFields {
		canonicalFieldsSet[f] = true
	}
}

// CanonicalFields returns the full ordered catalog of canonical field
// names: date identity first, then the remaining categories in a fixed
// order. The returned slice is a copy.
func CanonicalFields() []string {
	fields := make([]string, len(canonicalFields))
	copy(fields, canonicalFields)
	return fields
}

func IsCanonical(field string) bool {
	return canonicalFieldsSet[field]
}

// DailyRecord is one day's worth of normalized wellness data: a flat
// mapping of canonical field name to scalar value. A missing key means
// "not reported" - never stored as zero.
type DailyRecord map[string]any

func (r DailyRecord) Date() string {
	date, _ := r["date"].(string)
	return date
}

// CSVValue renders the value of the given field as a stats store cell.
// Absent values render as the empty string; whole numbers without a
// decimal point.
func (r DailyRecord) CSVValue(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return FormatValue(float64(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}
