package validation

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/format"
	"github.com/rulebridge/rulebridge/pkg/breaker"
	"github.com/rulebridge/rulebridge/remote"
)

// stubValidator returns a canned report or error.
type stubValidator struct {
	report remote.SyntaxReport
	err    error
	calls  int
}

func (s *stubValidator) CheckSyntax(ctx context.Context, content string, f format.Format) (remote.SyntaxReport, error) {
	s.calls++
	return s.report, s.err
}

func TestPipeline_SchemaFailureShortCircuits(t *testing.T) {
	backend := &stubValidator{}
	p := NewPipeline(backend, nil)

	res, err := p.Validate(context.Background(), "", "splunk", "sigma")
	require.NoError(t, err, "input problems must not surface as errors")

	require.Len(t, res.Errors, 1)
	assert.Equal(t, errors.CodeSchemaError, res.Errors[0].Code)
	assert.Equal(t, SeverityCritical, res.Errors[0].Severity)
	assert.False(t, res.IsValid)
	assert.Zero(t, res.ConfidenceScore)
	assert.Equal(t, 0, backend.calls, "later stages must not run after schema failure")
}

func TestPipeline_SchemaUnknownFormats(t *testing.T) {
	p := NewPipeline(nil, nil)

	res, err := p.Validate(context.Background(), "rule body", "snort", "nonsense")
	require.NoError(t, err)

	require.Len(t, res.Errors, 2)
	for _, issue := range res.Errors {
		assert.Equal(t, errors.CodeSchemaError, issue.Code)
	}
}

func TestPipeline_SchemaContentTooLarge(t *testing.T) {
	p := NewPipeline(nil, nil, WithMaxContentBytes(16))

	res, err := p.Validate(context.Background(), strings.Repeat("x", 17), "splunk", "sigma")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "byte limit")
}

func TestPipeline_IncompatiblePairIsCritical(t *testing.T) {
	backend := &stubValidator{}
	p := NewPipeline(backend, nil)

	res, err := p.Validate(context.Background(), "index=main | stats count", "splunk", "yara")
	require.NoError(t, err)

	require.NotEmpty(t, res.Errors)
	assert.Equal(t, errors.CodeFormatCompatibility, res.Errors[0].Code)
	assert.Equal(t, SeverityCritical, res.Errors[0].Severity)
	assert.False(t, res.IsValid)
	assert.LessOrEqual(t, res.ConfidenceScore, 0.3)

	// Compatibility failure does not stop the remote stage.
	assert.Equal(t, 1, backend.calls)
}

func TestPipeline_RemoteFindingsMapped(t *testing.T) {
	backend := &stubValidator{
		report: remote.SyntaxReport{
			SyntaxErrors: []remote.RemoteIssue{
				{Code: "SYNTAX_ERROR", Message: "unexpected pipe", Severity: "medium", Line: 2, Column: 7},
			},
			FormatWarnings: []remote.RemoteIssue{
				{Message: "deprecated field", Severity: "low", Line: 1},
			},
		},
	}
	p := NewPipeline(backend, nil)

	res, err := p.Validate(context.Background(), "rule body", "qradar", "kql")
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	require.NotNil(t, res.Errors[0].Location)
	assert.Equal(t, 2, res.Errors[0].Location.Line)
	assert.Equal(t, 7, res.Errors[0].Location.Column)
	assert.Equal(t, SeverityMedium, res.Errors[0].Severity)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "FORMAT_WARNING", res.Warnings[0].Code)

	// 0.4 error penalty + 0.1 warning penalty.
	assert.InDelta(t, 0.5, res.ConfidenceScore, 1e-9)
	assert.False(t, res.IsValid)
}

func TestPipeline_RemoteUnavailableDegrades(t *testing.T) {
	backend := &stubValidator{err: stderrors.New("connection refused")}
	p := NewPipeline(backend, nil)

	res, err := p.Validate(context.Background(), "rule body", "splunk", "sigma")
	require.NoError(t, err, "backend outage must degrade, not fail")

	require.Len(t, res.Errors, 1)
	assert.Equal(t, errors.CodeRemoteUnavailable, res.Errors[0].Code)
	assert.Equal(t, SeverityHigh, res.Errors[0].Severity)
	// Single high-severity error: 1 - 0.7.
	assert.InDelta(t, 0.3, res.ConfidenceScore, 1e-9)
}

func TestPipeline_BreakerOpenDegrades(t *testing.T) {
	backend := &stubValidator{err: stderrors.New("boom")}
	guard := breaker.New(breaker.Config{
		Name:          "validator",
		MinimumVolume: 2,
		ResetTimeout:  time.Hour,
	})
	defer guard.Close()
	p := NewPipeline(backend, guard)

	// Trip the breaker.
	for i := 0; i < 2; i++ {
		_, err := p.Validate(context.Background(), "rule body", "splunk", "sigma")
		require.NoError(t, err)
	}
	require.Equal(t, breaker.StateOpen, guard.State())

	callsBefore := backend.calls
	res, err := p.Validate(context.Background(), "rule body", "splunk", "sigma")
	require.NoError(t, err)
	assert.Equal(t, callsBefore, backend.calls, "open breaker must not reach the backend")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, errors.CodeRemoteUnavailable, res.Errors[0].Code)
}

func TestPipeline_ValidResult(t *testing.T) {
	backend := &stubValidator{}
	p := NewPipeline(backend, nil)

	res, err := p.Validate(context.Background(), "title: test rule", "sigma", "kql")
	require.NoError(t, err)

	assert.True(t, res.IsValid)
	assert.Equal(t, 1.0, res.ConfidenceScore)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.WithinDuration(t, time.Now().UTC(), res.ValidatedAt, 5*time.Second)
}

func TestScore_PenaltyWeights(t *testing.T) {
	tests := []struct {
		name     string
		errs     []Issue
		warns    []Issue
		expected float64
	}{
		{name: "no issues", expected: 1.0},
		{name: "critical error", errs: []Issue{{Severity: SeverityCritical}}, expected: 0.0},
		{name: "high error", errs: []Issue{{Severity: SeverityHigh}}, expected: 0.3},
		{name: "medium error", errs: []Issue{{Severity: SeverityMedium}}, expected: 0.6},
		{name: "low error", errs: []Issue{{Severity: SeverityLow}}, expected: 0.8},
		{name: "high warning", warns: []Issue{{Severity: SeverityHigh}}, expected: 0.7},
		{name: "medium warning", warns: []Issue{{Severity: SeverityMedium}}, expected: 0.8},
		{name: "low warning", warns: []Issue{{Severity: SeverityLow}}, expected: 0.9},
		{
			name:     "penalties accumulate",
			errs:     []Issue{{Severity: SeverityMedium}, {Severity: SeverityLow}},
			warns:    []Issue{{Severity: SeverityMedium}},
			expected: 0.2,
		},
		{
			name:     "clamped at zero",
			errs:     []Issue{{Severity: SeverityCritical}, {Severity: SeverityHigh}},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := score(tt.errs, tt.warns)
			assert.InDelta(t, tt.expected, res.ConfidenceScore, 1e-9)
			assert.Equal(t, len(tt.errs) == 0, res.IsValid)
		})
	}
}

func TestScore_MonotonicallyNonIncreasing(t *testing.T) {
	// Adding an issue of any severity must never raise the score.
	additions := []struct {
		severity Severity
		warning  bool
	}{
		{SeverityLow, true},
		{SeverityLow, false},
		{SeverityMedium, true},
		{SeverityHigh, false},
		{SeverityMedium, false},
		{SeverityHigh, true},
		{SeverityCritical, false},
		{SeverityLow, true},
	}

	var errs, warns []Issue
	prev := score(nil, nil).ConfidenceScore
	require.Equal(t, 1.0, prev)

	for i, add := range additions {
		if add.warning {
			warns = append(warns, Issue{Severity: add.severity})
		} else {
			errs = append(errs, Issue{Severity: add.severity})
		}
		cur := score(errs, warns).ConfidenceScore
		assert.LessOrEqual(t, cur, prev, "score rose after issue %d (%s)", i, add.severity)
		assert.GreaterOrEqual(t, cur, 0.0)
		prev = cur
	}
	assert.Equal(t, 0.0, prev, "accumulated penalties exceed 1.0 and clamp at zero")
}

func TestValidateContent_SkipsCompatibility(t *testing.T) {
	backend := &stubValidator{}
	p := NewPipeline(backend, nil)

	// yara content validated standalone; no pair exists to be unsupported.
	res, err := p.ValidateContent(context.Background(), "rule demo { condition: true }", "yara")
	require.NoError(t, err)

	assert.True(t, res.IsValid)
	assert.InDelta(t, 1.0, res.ConfidenceScore, 1e-9)
	assert.Equal(t, 1, backend.calls)
}

func TestValidateContent_UnknownFormat(t *testing.T) {
	backend := &stubValidator{}
	p := NewPipeline(backend, nil)

	res, err := p.ValidateContent(context.Background(), "content", "snort")
	require.NoError(t, err)

	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, errors.CodeSchemaError, res.Errors[0].Code)
	assert.Zero(t, backend.calls, "schema failure must not reach the backend")
}

func TestValidateContent_MapsRemoteFindings(t *testing.T) {
	backend := &stubValidator{report: remote.SyntaxReport{
		SyntaxErrors: []remote.RemoteIssue{{Message: "bad trailer", Severity: "low", Line: 9}},
	}}
	p := NewPipeline(backend, nil)

	res, err := p.ValidateContent(context.Background(), "rule x {}", "yara")
	require.NoError(t, err)

	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.InDelta(t, 0.8, res.ConfidenceScore, 1e-9)
}
