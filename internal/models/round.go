package models

// TurnStatus is the outcome of a single agent's turn within a round.
type TurnStatus string

const (
	TurnOK     TurnStatus = "ok"
	TurnFailed TurnStatus = "failed"
)

// TurnResult records one agent's turn. On failure, Error holds the final
// attempt's error text and Action is empty.
type TurnResult struct {
	Agent    string     `json:"agent"`
	Status   TurnStatus `json:"status"`
	Action   string     `json:"action,omitempty"`
	Error    string     `json:"error,omitempty"`
	Attempts int        `json:"attempts"`
}

// RoundResult is the outcome of one broadcast-and-collect round. Turns
// appear in participant order regardless of completion order, so a
// RoundResult is reproducible across re-runs with a warm cache.
type RoundResult struct {
	Round    int          `json:"round"`
	Stimulus string       `json:"stimulus"`
	Turns    []TurnResult `json:"turns"`
}

// FailedTurns returns the number of turns that exhausted their retries.
func (r RoundResult) FailedTurns() int {
	n := 0
	for _, t := range r.Turns {
		if t.Status == TurnFailed {
			n++
		}
	}
	return n
}
