// Package sleep derives settlement metrics from raw WHOOP sleep payloads.
package sleep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// Candidate paths are tried in order; the first present, non-zero value wins.
// Older payloads used "stages" and "efficiency_percentage".
var (
	stagePaths = [][]string{
		{"score", "stage_summary"},
		{"score", "stages"},
	}
	efficiencyPaths = [][]string{
		{"score", "sleep_efficiency_percentage"},
		{"score", "efficiency_percentage"},
	}
)

const (
	inBedKey      = "total_in_bed_time_milli"
	awakeKey      = "total_awake_time_milli"
	slowWaveKey   = "total_slow_wave_sleep_time_milli"
	remKey        = "total_rem_sleep_time_milli"
	cycleCountKey = "sleep_cycle_count"

	msPerMinute = 60_000
)

// Extract computes SleepMetrics from a provider sleep body. It fails with
// models.ErrExtractionFailed when the body is not a JSON object or has no
// usable start instant; missing score fields count as zero.
func Extract(raw []byte) (models.SleepMetrics, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return models.SleepMetrics{}, fmt.Errorf("%w: payload is not an object", models.ErrExtractionFailed)
	}

	start, ok := doc["start"].(string)
	if !ok || start == "" {
		return models.SleepMetrics{}, fmt.Errorf("%w: no start time", models.ErrExtractionFailed)
	}
	startAt, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return models.SleepMetrics{}, fmt.Errorf("%w: start %q: %v", models.ErrExtractionFailed, start, err)
	}

	stages := firstObject(doc, stagePaths)
	inBed := number(stages[inBedKey])
	awake := number(stages[awakeKey])

	return models.SleepMetrics{
		Date:                 startAt.UTC().Format(time.DateOnly),
		SleepDurationMinutes: int64(math.Max(0, roundHalfUp((inBed-awake)/msPerMinute))),
		EfficiencyPercentage: int64(roundHalfUp(firstNumber(doc, efficiencyPaths))),
		SleepCycles:          int64(number(stages[cycleCountKey])),
		DeepSleepMinutes:     int64(roundHalfUp(number(stages[slowWaveKey]) / msPerMinute)),
		RemSleepMinutes:      int64(roundHalfUp(number(stages[remKey]) / msPerMinute)),
	}, nil
}

// ContractDate encodes "YYYY-MM-DD" as the integer YYYYMMDD.
func ContractDate(date string) (int64, error) {
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return 0, fmt.Errorf("%w: date %q", models.ErrInvalidInput, date)
	}
	return int64(d.Year()*10000 + int(d.Month())*100 + d.Day()), nil
}

func lookup(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func firstObject(doc map[string]any, paths [][]string) map[string]any {
	for _, p := range paths {
		if v, ok := lookup(doc, p); ok {
			if obj, ok := v.(map[string]any); ok {
				return obj
			}
		}
	}
	return map[string]any{}
}

func firstNumber(doc map[string]any, paths [][]string) float64 {
	for _, p := range paths {
		v, ok := lookup(doc, p)
		if !ok {
			continue
		}
		if n := number(v); n != 0 {
			return n
		}
	}
	return 0
}

// number reads loosely typed numeric values. Anything unusable is zero.
func number(v any) float64 {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case string:
		f, err = strconv.ParseFloat(n, 64)
	default:
		return 0
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func roundHalfUp(f float64) float64 {
	return math.Floor(f + 0.5)
}
