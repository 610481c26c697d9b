package model

import "time"

// DecisionStatus is the final disposition of one orchestration.
type DecisionStatus string

const (
	// StatusAccepted means a candidate met the early-accept threshold.
	StatusAccepted DecisionStatus = "accepted"
	// StatusBestEffort means no candidate met the accept threshold; the
	// highest-scoring one is returned and must never be silently promoted.
	StatusBestEffort DecisionStatus = "best-effort"
	// StatusFailed means no strategy produced any candidate at all.
	StatusFailed DecisionStatus = "failed"
)

// Issue is one validation finding.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Metrics holds the structured sub-measurements behind a validation score.
type Metrics struct {
	ItemCount            int     `json:"item_count"`
	ValidMediaRatio      float64 `json:"valid_media_ratio"`
	MetadataCompleteness float64 `json:"metadata_completeness"`
	ContaminationCount   int     `json:"contamination_count"`
}

// Report is the validator's verdict on one candidate. Pure value: produced
// once, never mutated, no side effects.
type Report struct {
	Score   float64 `json:"score"`
	Valid   bool    `json:"valid"`
	Issues  []Issue `json:"issues,omitempty"`
	Metrics Metrics `json:"metrics"`
}

// HasIssue reports whether the report contains the given issue code.
func (r Report) HasIssue(code string) bool {
	for _, is := range r.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// Attempt records one strategy attempt and how it scored.
type Attempt struct {
	StrategyID string        `json:"strategy_id"`
	Score      float64       `json:"score"`
	ItemCount  int           `json:"item_count"`
	Elapsed    time.Duration `json:"elapsed"`
	Err        string        `json:"error,omitempty"`
}

// Decision is the authoritative output of one orchestration, handed to the
// record store. Exactly one winner exists unless Status is failed.
type Decision struct {
	ID        string         `json:"id"`
	Target    Target         `json:"target"`
	Status    DecisionStatus `json:"status"`
	Winner    *Candidate     `json:"winner,omitempty"`
	Report    *Report        `json:"report,omitempty"`
	Attempted []Attempt      `json:"attempted"`
	Elapsed   time.Duration  `json:"elapsed"`
	CreatedAt time.Time      `json:"created_at"`
}
