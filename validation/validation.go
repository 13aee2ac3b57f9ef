// Package validation implements the four-stage pipeline applied to every
// detection rule before and after translation: schema shape, format
// compatibility, remote syntax checking, and confidence scoring.
package validation

import (
	"time"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// errorWeights and warningWeights drive the confidence penalty. Errors
// weigh heavier than warnings of the same grade.
var (
	errorWeights = map[Severity]float64{
		SeverityCritical: 1.0,
		SeverityHigh:     0.7,
		SeverityMedium:   0.4,
		SeverityLow:      0.2,
	}
	warningWeights = map[Severity]float64{
		SeverityHigh:   0.3,
		SeverityMedium: 0.2,
		SeverityLow:    0.1,
	}
)

// Location points at the offending position in the rule text.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Issue is a single validation finding.
type Issue struct {
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Location *Location `json:"location,omitempty"`
	Severity Severity  `json:"severity"`
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Errors          []Issue   `json:"errors"`
	Warnings        []Issue   `json:"warnings"`
	ConfidenceScore float64   `json:"confidence_score"`
	IsValid         bool      `json:"is_valid"`
	ValidatedAt     time.Time `json:"validated_at"`
}

// score finalizes a result: confidence is 1 minus the summed severity
// penalty, clamped to [0,1]; the result is valid iff no errors remain.
func score(errs, warns []Issue) Result {
	penalty := 0.0
	for _, i := range errs {
		penalty += errorWeights[i.Severity]
	}
	for _, i := range warns {
		penalty += warningWeights[i.Severity]
	}

	confidence := 1.0 - penalty
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		Errors:          errs,
		Warnings:        warns,
		ConfidenceScore: confidence,
		IsValid:         len(errs) == 0,
		ValidatedAt:     time.Now().UTC(),
	}
}
