package extraction

import (
	"encoding/json"
	"math"

	"github.com/troupe-sim/troupe/internal/models"
)

// z95 is the two-sided 95% critical value of the standard normal.
const z95 = 1.96

// Aggregate computes population statistics over the structurally valid
// records. Numeric fields get mean, sample standard deviation, and a
// normal-approximation 95% confidence interval; categorical fields get
// frequency counts. A field absent from a valid record simply does not
// contribute to that field's statistics.
func Aggregate(job models.ExtractionJob, population int, records []models.AgentRecord) models.AggregateStatistics {
	agg := models.AggregateStatistics{
		Population: population,
		ValidCount: len(records),
	}

	for _, spec := range job.Fields {
		switch spec.Type {
		case models.FieldNumber:
			values := collectNumbers(records, spec.Name)
			if len(values) == 0 {
				continue
			}
			if agg.Numeric == nil {
				agg.Numeric = make(map[string]models.NumericStats)
			}
			agg.Numeric[spec.Name] = numericStats(values)

		case models.FieldCategory:
			counts := collectCategories(records, spec.Name)
			if len(counts) == 0 {
				continue
			}
			if agg.Categories == nil {
				agg.Categories = make(map[string]models.CategoryStats)
			}
			total := 0
			for _, n := range counts {
				total += n
			}
			agg.Categories[spec.Name] = models.CategoryStats{Count: total, Counts: counts}
		}
	}
	return agg
}

func collectNumbers(records []models.AgentRecord, field string) []float64 {
	var values []float64
	for _, rec := range records {
		v, ok := rec.Fields[field]
		if !ok {
			continue
		}
		if f, ok := asNumber(v); ok {
			values = append(values, f)
		}
	}
	return values
}

func collectCategories(records []models.AgentRecord, field string) map[string]int {
	counts := make(map[string]int)
	for _, rec := range records {
		v, ok := rec.Fields[field]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			counts[s]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}

// numericStats computes mean, sample standard deviation, and the 95% CI.
// The CI is omitted for fewer than two values, where the sample standard
// deviation is undefined.
func numericStats(values []float64) models.NumericStats {
	n := len(values)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	stats := models.NumericStats{Count: n, Mean: mean}
	if n < 2 {
		return stats
	}

	var sqSum float64
	for _, v := range values {
		d := v - mean
		sqSum += d * d
	}
	stats.StdDev = math.Sqrt(sqSum / float64(n-1))

	margin := z95 * stats.StdDev / math.Sqrt(float64(n))
	stats.CI95 = &models.CIRange{Low: mean - margin, High: mean + margin}
	return stats
}

// asNumber accepts the numeric shapes JSON decoding can produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
