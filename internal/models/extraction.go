package models

// FieldType declares what kind of value an extraction field slot accepts.
type FieldType string

const (
	// FieldNumber accepts numeric values and feeds mean/stddev/CI
	// aggregation.
	FieldNumber FieldType = "number"
	// FieldCategory accepts string labels and feeds frequency
	// distributions.
	FieldCategory FieldType = "category"
)

// FieldSpec declares one named slot to extract per agent. A record
// missing a required field, or supplying a value of the wrong type, is
// counted as invalid and excluded from aggregates.
type FieldSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Hint     string    `json:"hint,omitempty" yaml:"hint,omitempty"`
	Required bool      `json:"required" yaml:"required"`
}

// ExtractionJob describes what to pull out of each agent in the target
// population.
type ExtractionJob struct {
	Objective string      `json:"objective" yaml:"objective"`
	Fields    []FieldSpec `json:"fields" yaml:"fields"`
}

// AgentRecord is one agent's structurally valid extraction result.
type AgentRecord struct {
	Agent  string         `json:"agent"`
	Fields map[string]any `json:"fields"`
}

// InvalidRecord notes an agent whose extraction was malformed, with the
// reason it was excluded. Invalid records are counted, never coerced.
type InvalidRecord struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

// NumericStats summarizes one numeric field across the valid population.
// The confidence interval is a normal approximation (mean ± 1.96·s/√n);
// it is omitted for populations smaller than two.
type NumericStats struct {
	Count  int      `json:"count"`
	Mean   float64  `json:"mean"`
	StdDev float64  `json:"std_dev"`
	CI95   *CIRange `json:"ci95,omitempty"`
}

// CIRange is a two-sided confidence interval.
type CIRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// CategoryStats is the frequency distribution of one categorical field.
type CategoryStats struct {
	Count  int            `json:"count"`
	Counts map[string]int `json:"counts"`
}

// AggregateStatistics holds population-level statistics computed only
// over structurally valid records.
type AggregateStatistics struct {
	Population int                      `json:"population"`
	ValidCount int                      `json:"valid_count"`
	Numeric    map[string]NumericStats  `json:"numeric,omitempty"`
	Categories map[string]CategoryStats `json:"categories,omitempty"`
}

// ExtractionResult is the output of running an ExtractionJob against a
// session or checkpoint. len(Records) + InvalidCount always equals the
// target population size.
type ExtractionResult struct {
	Objective    string              `json:"objective"`
	Records      []AgentRecord       `json:"records"`
	Invalid      []InvalidRecord     `json:"invalid,omitempty"`
	InvalidCount int                 `json:"invalid_count"`
	Aggregates   AggregateStatistics `json:"aggregates"`
}
