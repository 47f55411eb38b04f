package extraction

import (
	"math"
	"testing"

	"github.com/troupe-sim/troupe/internal/models"
)

func numberJob(name string) models.ExtractionJob {
	return models.ExtractionJob{
		Objective: "test",
		Fields:    []models.FieldSpec{{Name: name, Type: models.FieldNumber}},
	}
}

func recordsWith(field string, values ...float64) []models.AgentRecord {
	records := make([]models.AgentRecord, 0, len(values))
	for i, v := range values {
		records = append(records, models.AgentRecord{
			Agent:  string(rune('A' + i)),
			Fields: map[string]any{field: v},
		})
	}
	return records
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregateNumericKnownValues(t *testing.T) {
	// Values 2, 4, 6, 8: mean 5, sample stddev sqrt(20/3).
	agg := Aggregate(numberJob("score"), 4, recordsWith("score", 2, 4, 6, 8))

	stats, ok := agg.Numeric["score"]
	if !ok {
		t.Fatal("no stats for score")
	}
	if stats.Count != 4 {
		t.Errorf("count = %d, want 4", stats.Count)
	}
	if !almostEqual(stats.Mean, 5) {
		t.Errorf("mean = %v, want 5", stats.Mean)
	}
	wantStdDev := math.Sqrt(20.0 / 3.0)
	if !almostEqual(stats.StdDev, wantStdDev) {
		t.Errorf("stddev = %v, want %v", stats.StdDev, wantStdDev)
	}

	if stats.CI95 == nil {
		t.Fatal("CI95 missing for n=4")
	}
	margin := 1.96 * wantStdDev / 2 // sqrt(4) = 2
	if !almostEqual(stats.CI95.Low, 5-margin) || !almostEqual(stats.CI95.High, 5+margin) {
		t.Errorf("CI95 = [%v, %v], want [%v, %v]",
			stats.CI95.Low, stats.CI95.High, 5-margin, 5+margin)
	}
}

func TestAggregateSingleValueOmitsCI(t *testing.T) {
	agg := Aggregate(numberJob("score"), 1, recordsWith("score", 7))

	stats := agg.Numeric["score"]
	if stats.Mean != 7 || stats.Count != 1 {
		t.Errorf("stats = %+v, want mean 7 count 1", stats)
	}
	if stats.StdDev != 0 {
		t.Errorf("stddev = %v, want 0 for n=1", stats.StdDev)
	}
	if stats.CI95 != nil {
		t.Error("CI95 must be omitted for n<2")
	}
}

func TestAggregateSkipsAbsentField(t *testing.T) {
	records := []models.AgentRecord{
		{Agent: "A", Fields: map[string]any{"score": float64(3)}},
		{Agent: "B", Fields: map[string]any{}}, // optional field absent
		{Agent: "C", Fields: map[string]any{"score": float64(5)}},
	}
	agg := Aggregate(numberJob("score"), 3, records)

	stats := agg.Numeric["score"]
	if stats.Count != 2 {
		t.Errorf("count = %d, want 2 (absent fields do not contribute)", stats.Count)
	}
	if !almostEqual(stats.Mean, 4) {
		t.Errorf("mean = %v, want 4", stats.Mean)
	}
	if agg.ValidCount != 3 {
		t.Errorf("valid count = %d, want 3", agg.ValidCount)
	}
}

func TestAggregateCategoryFrequencies(t *testing.T) {
	job := models.ExtractionJob{
		Objective: "test",
		Fields:    []models.FieldSpec{{Name: "mood", Type: models.FieldCategory}},
	}
	records := []models.AgentRecord{
		{Agent: "A", Fields: map[string]any{"mood": "happy"}},
		{Agent: "B", Fields: map[string]any{"mood": "sad"}},
		{Agent: "C", Fields: map[string]any{"mood": "happy"}},
	}

	agg := Aggregate(job, 3, records)
	stats, ok := agg.Categories["mood"]
	if !ok {
		t.Fatal("no stats for mood")
	}
	if stats.Count != 3 {
		t.Errorf("total = %d, want 3", stats.Count)
	}
	if stats.Counts["happy"] != 2 || stats.Counts["sad"] != 1 {
		t.Errorf("counts = %v", stats.Counts)
	}
}

func TestAggregateEmptyRecords(t *testing.T) {
	agg := Aggregate(numberJob("score"), 5, nil)
	if agg.Population != 5 || agg.ValidCount != 0 {
		t.Errorf("agg = %+v", agg)
	}
	if agg.Numeric != nil {
		t.Error("no numeric stats expected with no records")
	}
}

func TestAsNumberShapes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float64", float64(1.5), 1.5, true},
		{"int", 3, 3, true},
		{"int64", int64(4), 4, true},
		{"string", "5", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := asNumber(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("asNumber(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
