package healthdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jayms/healthsync/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Payload is a raw, loosely-structured response of one wellness API
// endpoint, as decoded from JSON. Shapes vary by endpoint and API
// version, so everything here is defensive.
type Payload map[string]any

// synonym keys per canonical field, in priority order; used only when
// the canonical key itself is absent everywhere
var fieldSynonyms = map[string][]string{
	"weightInGrams":     {"weight"},
	"bodyFatPercentage": {"bodyFat"},
	"sleepTimeSeconds":  {"sleepingSeconds"},
	"deepSleepSeconds":  {"deepSleepDuration", "deepSleep"},
	"lightSleepSeconds": {"lightSleepDuration", "lightSleep"},
	"remSleepSeconds":   {"remSleepDuration", "remSleep"},
	"awakeSleepSeconds": {"awakeDuration", "awake"},
}

// sleep stage name (as used by the levels/segments shapes) to the
// canonical duration field
var sleepStageFields = []struct {
	stage string
	field string
}{
	{"deep", "deepSleepSeconds"},
	{"light", "lightSleepSeconds"},
	{"rem", "remSleepSeconds"},
	{"awake", "awakeSleepSeconds"},
}

// Normalizer collapses the differently-shaped payloads of the stats,
// sleep and HRV endpoints into one flat DailyRecord with canonical
// field names.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

type NormalizeParams struct {
	Date  time.Time
	Stats Payload
	Sleep Payload
	HRV   Payload
}

// Normalize builds the DailyRecord for one date. Individual field
// extraction failures are collected and logged, never fatal: a field
// that cannot be derived from any known shape is simply absent.
func (n *Normalizer) Normalize(ctx context.Context, params NormalizeParams) DailyRecord {
	_, span := tracing.GlobalTracer.Start(ctx, "normalizer.normalize")
	defer span.End()

	record := DailyRecord{}
	// payloads in fixed priority order
	payloads := []Payload{params.Stats, params.Sleep, params.HRV}

	var extractionErrs error

	for _, field := range canonicalFields {
		if _, done := record[field]; done {
			continue
		}
		switch field {
		case "date", "year", "month", "day", "dayOfWeek":
			// date identity comes from the target date, not the payloads
			continue
		case "deepSleepSeconds", "lightSleepSeconds", "remSleepSeconds", "awakeSleepSeconds":
			continue // handled below, stage sources have their own priority chain
		case "weeklyAvgHrv", "lastNightAvgHrv", "lastNight5MinHighHrv", "hrvStatus",
			"averageHrvValue", "maxHrvValue", "minHrvValue":
			continue // handled below
		case "sleepTimeSeconds":
			continue // handled below, has a timestamp-difference fallback
		}
		if value, ok := n.resolveField(field, payloads); ok {
			record[field] = value
		}
	}

	extractionErrs = multierr.Append(extractionErrs, n.extractSleepStages(record, payloads))
	extractionErrs = multierr.Append(extractionErrs, n.extractSleepTime(record, payloads))
	extractionErrs = multierr.Append(extractionErrs, n.extractHRV(record, payloads))

	n.setDateFields(record, params.Date)

	if extractionErrs != nil {
		log.Warnf("normalize %s: some fields not extracted: %s", record.Date(), extractionErrs)
	}

	return record
}

func (n *Normalizer) setDateFields(record DailyRecord, date time.Time) {
	record["date"] = date.Format("2006-01-02")
	record["year"] = date.Format("2006")
	record["month"] = date.Format("01")
	record["day"] = date.Format("02")
	// 0 = Monday .. 6 = Sunday
	record["dayOfWeek"] = (int(date.Weekday()) + 6) % 7
}

// resolveField finds the first non-null scalar for the canonical field:
// the canonical key in any payload first, then each synonym in priority
// order across all payloads.
func (n *Normalizer) resolveField(field string, payloads []Payload) (any, bool) {
	for _, p := range payloads {
		if value, ok := scalarValue(p[field]); ok {
			return value, true
		}
	}
	for _, synonym := range fieldSynonyms[field] {
		for _, p := range payloads {
			if value, ok := scalarValue(p[synonym]); ok {
				return value, true
			}
		}
	}
	return nil, false
}

// extractSleepStages fills the per-stage sleep durations, trying the
// known source shapes in priority order per stage:
//  1. the dailySleepDTO summary object
//  2. direct top-level fields (canonical name or duration synonyms)
//  3. sleepLevels as a mapping keyed by stage name
//  4. sleepLevels as a list of level entries, summed per stage
//  5. sleepSegments as a list of typed segments, summed per type
//
// The first source yielding a non-zero value for a stage wins; later,
// lower-priority sources never overwrite it.
func (n *Normalizer) extractSleepStages(record DailyRecord, payloads []Payload) error {
	var errs error

	for _, sf := range sleepStageFields {
		if _, done := record[sf.field]; done {
			continue
		}

		for _, p := range payloads {
			// 1. dailySleepDTO
			if v, ok, err := nestedNumber(p, "dailySleepDTO", sf.field); err != nil {
				errs = multierr.Append(errs, err)
			} else if ok && v != 0 {
				record[sf.field] = v
				break
			}

			// 2. direct top-level fields
			if v, ok := numberValue(p[sf.field]); ok && v != 0 {
				record[sf.field] = v
				break
			}
			directFound := false
			for _, synonym := range fieldSynonyms[sf.field] {
				if v, ok := numberValue(p[synonym]); ok && v != 0 {
					record[sf.field] = v
					directFound = true
					break
				}
			}
			if directFound {
				break
			}

			// 3. + 4. sleepLevels: either a map keyed by stage or a list of entries
			if v, ok, err := sleepLevelsDuration(p, sf.stage); err != nil {
				errs = multierr.Append(errs, err)
			} else if ok && v != 0 {
				record[sf.field] = v
				break
			}

			// 5. sleepSegments
			if v, ok, err := sleepSegmentsDuration(p, sf.stage); err != nil {
				errs = multierr.Append(errs, err)
			} else if ok && v != 0 {
				record[sf.field] = v
				break
			}
		}
	}

	return errs
}

// extractSleepTime resolves the total sleep duration: the dailySleepDTO
// summary first, then direct fields and synonyms, finally falling back
// to the difference of the sleep start/end timestamps.
func (n *Normalizer) extractSleepTime(record DailyRecord, payloads []Payload) error {
	var errs error

	const field = "sleepTimeSeconds"
	for _, p := range payloads {
		if v, ok, err := nestedNumber(p, "dailySleepDTO", field); err != nil {
			errs = multierr.Append(errs, err)
		} else if ok && v != 0 {
			record[field] = v
			return errs
		}
	}

	if value, ok := n.resolveField(field, payloads); ok {
		record[field] = value
		return errs
	}

	// last resort: derive the duration from the sleep window timestamps
	for _, p := range payloads {
		start, startOk := stringValue(p["sleepStartTimestampGMT"])
		end, endOk := stringValue(p["sleepEndTimestampGMT"])
		if !startOk || !endOk {
			continue
		}
		seconds, err := timestampDiffSeconds(start, end)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sleep window timestamps: %w", err))
			continue
		}
		record[field] = seconds
		return errs
	}

	return errs
}

// extractHRV fills the HRV summary fields from a nested hrvSummary
// object, and the average/max/min from the raw hrvReadings list when
// per-reading values are present.
func (n *Normalizer) extractHRV(record DailyRecord, payloads []Payload) error {
	var errs error

	summaryFields := []struct {
		src string
		dst string
	}{
		{"weeklyAvg", "weeklyAvgHrv"},
		{"lastNightAvg", "lastNightAvgHrv"},
		{"lastNight5MinHigh", "lastNight5MinHighHrv"},
		{"status", "hrvStatus"},
	}

	for _, p := range payloads {
		summary, ok := p["hrvSummary"]
		if !ok || summary == nil {
			continue
		}
		summaryMap, ok := summary.(map[string]any)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("hrvSummary: unexpected type %T", summary))
			continue
		}
		for _, sf := range summaryFields {
			if _, done := record[sf.dst]; done {
				continue
			}
			if value, ok := scalarValue(summaryMap[sf.src]); ok {
				record[sf.dst] = value
			}
		}
	}

	for _, p := range payloads {
		readings, ok := p["hrvReadings"]
		if !ok || readings == nil {
			continue
		}
		readingsList, ok := readings.([]any)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("hrvReadings: unexpected type %T", readings))
			continue
		}

		var values []float64
		for _, r := range readingsList {
			reading, ok := r.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := numberValue(reading["hrvValue"]); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}

		sum, minVal, maxVal := values[0], values[0], values[0]
		for _, v := range values[1:] {
			sum += v
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
		if _, done := record["averageHrvValue"]; !done {
			record["averageHrvValue"] = sum / float64(len(values))
		}
		if _, done := record["maxHrvValue"]; !done {
			record["maxHrvValue"] = maxVal
		}
		if _, done := record["minHrvValue"]; !done {
			record["minHrvValue"] = minVal
		}
	}

	// HRV extremes can also arrive as plain top-level fields
	for _, field := range []string{"averageHrvValue", "maxHrvValue", "minHrvValue"} {
		if _, done := record[field]; done {
			continue
		}
		if value, ok := n.resolveField(field, payloads); ok {
			record[field] = value
		}
	}

	return errs
}

// --- shape helpers ---

// scalarValue accepts numbers, strings and bools; nil and composite
// values report not-ok
func scalarValue(v any) (any, bool) {
	switch v.(type) {
	case nil:
		return nil, false
	case float64, float32, int, int64, string, bool:
		return v, true
	default:
		return nil, false
	}
}

func numberValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// nestedNumber reads payload[objectKey][fieldKey] as a number;
// reports an error when the nested object has an unexpected shape
func nestedNumber(p Payload, objectKey, fieldKey string) (float64, bool, error) {
	nested, ok := p[objectKey]
	if !ok || nested == nil {
		return 0, false, nil
	}
	nestedMap, ok := nested.(map[string]any)
	if !ok {
		return 0, false, fmt.Errorf("%s: unexpected type %T", objectKey, nested)
	}
	v, ok := numberValue(nestedMap[fieldKey])
	return v, ok, nil
}

// sleepLevelsDuration handles both sleepLevels shapes: a mapping keyed
// by stage name, and a list of {level|sleepLevel, seconds|duration}
// entries which need summation per stage
func sleepLevelsDuration(p Payload, stage string) (float64, bool, error) {
	levels, ok := p["sleepLevels"]
	if !ok || levels == nil {
		return 0, false, nil
	}

	switch lv := levels.(type) {
	case map[string]any:
		v, ok := numberValue(lv[stage])
		return v, ok, nil
	case []any:
		total := 0.0
		found := false
		for _, entry := range lv {
			entryMap, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			var name string
			var duration float64
			if levelName, ok := stringValue(entryMap["level"]); ok {
				name = levelName
				duration, _ = numberValue(entryMap["seconds"])
			} else if levelName, ok := stringValue(entryMap["sleepLevel"]); ok {
				name = levelName
				duration, _ = numberValue(entryMap["duration"])
			} else {
				continue
			}
			if strings.EqualFold(name, stage) {
				total += duration
				found = true
			}
		}
		return total, found, nil
	default:
		return 0, false, fmt.Errorf("sleepLevels: unexpected type %T", levels)
	}
}

// sleepSegmentsDuration sums the durations of all segments of the
// given type from the sleepSegments list shape
func sleepSegmentsDuration(p Payload, stage string) (float64, bool, error) {
	segments, ok := p["sleepSegments"]
	if !ok || segments == nil {
		return 0, false, nil
	}
	segmentsList, ok := segments.([]any)
	if !ok {
		return 0, false, fmt.Errorf("sleepSegments: unexpected type %T", segments)
	}

	total := 0.0
	found := false
	for _, s := range segmentsList {
		segment, ok := s.(map[string]any)
		if !ok {
			continue
		}
		segmentType, ok := stringValue(segment["sleepSegmentType"])
		if !ok || !strings.EqualFold(segmentType, stage) {
			continue
		}
		if duration, ok := numberValue(segment["durationInSeconds"]); ok {
			total += duration
			found = true
		}
	}
	return total, found, nil
}

// timestampDiffSeconds computes end-start in seconds; timestamps come
// as "2006-01-02T15:04:05.0" strings, fraction optional
func timestampDiffSeconds(start, end string) (float64, error) {
	const layout = "2006-01-02T15:04:05"

	startTime, err := time.Parse(layout, strings.SplitN(start, ".", 2)[0])
	if err != nil {
		return 0, fmt.Errorf("parse start [%s]: %w", start, err)
	}
	endTime, err := time.Parse(layout, strings.SplitN(end, ".", 2)[0])
	if err != nil {
		return 0, fmt.Errorf("parse end [%s]: %w", end, err)
	}

	return endTime.Sub(startTime).Seconds(), nil
}
