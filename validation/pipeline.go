package validation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/format"
	"github.com/rulebridge/rulebridge/metric"
	"github.com/rulebridge/rulebridge/pkg/breaker"
	"github.com/rulebridge/rulebridge/remote"
)

// DefaultMaxContentBytes bounds rule content accepted by the schema stage.
const DefaultMaxContentBytes = 1 << 20

// Pipeline runs the staged validation of a detection rule. Input-shaped
// problems (bad schema, incompatible pair, syntax findings) surface as
// Issues inside the Result; the error return is reserved for faults in the
// pipeline itself.
type Pipeline struct {
	matrix          *format.CompatibilityMatrix
	backend         remote.ValidationBackend
	guard           *breaker.Breaker
	maxContentBytes int
	logger          *slog.Logger
	metrics         *metric.Metrics
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMatrix overrides the compatibility matrix.
func WithMatrix(m *format.CompatibilityMatrix) PipelineOption {
	return func(p *Pipeline) { p.matrix = m }
}

// WithMaxContentBytes overrides the schema-stage size bound.
func WithMaxContentBytes(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxContentBytes = n
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics enables issue and confidence instrumentation.
func WithMetrics(m *metric.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline builds a pipeline. backend and guard may both be nil, in
// which case the remote stage is skipped entirely (local-only validation).
func NewPipeline(backend remote.ValidationBackend, guard *breaker.Breaker, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		matrix:          format.DefaultMatrix(),
		backend:         backend,
		guard:           guard,
		maxContentBytes: DefaultMaxContentBytes,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate runs all stages over content going from source to target.
//
// Stage order and short-circuiting:
//  1. schema — required fields, size bound, format enum membership; any
//     failure stops the pipeline and returns only the schema errors;
//  2. compatibility — an unsupported pair adds a critical issue but later
//     stages still run;
//  3. remote syntax — backend findings become issues; an unreachable
//     backend (breaker open, timeout, transport fault) degrades to a
//     high-severity REMOTE_VALIDATION_UNAVAILABLE issue, not an error;
//  4. scoring — severity-weighted penalty folded into a confidence score.
func (p *Pipeline) Validate(ctx context.Context, content, source, target string) (Result, error) {
	schemaErrs, src, dst := p.checkSchema(content, source, target)
	if len(schemaErrs) > 0 {
		return p.finish(target, schemaErrs, nil), nil
	}

	var errs, warns []Issue

	if !p.matrix.Supported(src, dst) {
		errs = append(errs, Issue{
			Code:     errors.CodeFormatCompatibility,
			Message:  fmt.Sprintf("translation from %s to %s is not supported", src, dst),
			Severity: SeverityCritical,
		})
	}

	remoteErrs, remoteWarns := p.checkRemote(ctx, content, src)
	errs = append(errs, remoteErrs...)
	warns = append(warns, remoteWarns...)

	return p.finish(target, errs, warns), nil
}

// ValidateContent checks a single piece of content against one format,
// skipping the pair-compatibility stage. Used for translated output,
// where there is no source/target pair to judge.
func (p *Pipeline) ValidateContent(ctx context.Context, content, formatName string) (Result, error) {
	var schemaErrs []Issue

	if content == "" {
		schemaErrs = append(schemaErrs, Issue{
			Code:     errors.CodeSchemaError,
			Message:  "content is required",
			Severity: SeverityCritical,
		})
	} else if len(content) > p.maxContentBytes {
		schemaErrs = append(schemaErrs, Issue{
			Code:     errors.CodeSchemaError,
			Message:  fmt.Sprintf("content exceeds %d byte limit", p.maxContentBytes),
			Severity: SeverityCritical,
		})
	}

	f, err := format.Parse(formatName)
	if err != nil {
		schemaErrs = append(schemaErrs, Issue{
			Code:     errors.CodeSchemaError,
			Message:  fmt.Sprintf("unknown format %q", formatName),
			Severity: SeverityCritical,
		})
	}
	if len(schemaErrs) > 0 {
		return p.finish(formatName, schemaErrs, nil), nil
	}

	errs, warns := p.checkRemote(ctx, content, f)
	return p.finish(formatName, errs, warns), nil
}

// checkSchema validates the structural shape of the request.
func (p *Pipeline) checkSchema(content, source, target string) ([]Issue, format.Format, format.Format) {
	var issues []Issue

	if content == "" {
		issues = append(issues, Issue{
			Code:     errors.CodeSchemaError,
			Message:  "content is required",
			Severity: SeverityCritical,
		})
	} else if len(content) > p.maxContentBytes {
		issues = append(issues, Issue{
			Code:     errors.CodeSchemaError,
			Message:  fmt.Sprintf("content exceeds %d byte limit", p.maxContentBytes),
			Severity: SeverityCritical,
		})
	}

	src, err := format.Parse(source)
	if err != nil {
		issues = append(issues, Issue{
			Code:     errors.CodeSchemaError,
			Message:  fmt.Sprintf("unknown source format %q", source),
			Severity: SeverityCritical,
		})
	}
	dst, err := format.Parse(target)
	if err != nil {
		issues = append(issues, Issue{
			Code:     errors.CodeSchemaError,
			Message:  fmt.Sprintf("unknown target format %q", target),
			Severity: SeverityCritical,
		})
	}

	return issues, src, dst
}

// checkRemote runs the breaker-guarded syntax check and maps the report
// onto issues. Unavailability degrades to a single high-severity issue.
func (p *Pipeline) checkRemote(ctx context.Context, content string, src format.Format) (errs, warns []Issue) {
	if p.backend == nil {
		return nil, nil
	}

	var report remote.SyntaxReport
	call := func(ctx context.Context) error {
		var err error
		report, err = p.backend.CheckSyntax(ctx, content, src)
		return err
	}

	var err error
	if p.guard != nil {
		err = p.guard.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		p.logger.Warn("remote validation unavailable",
			"format", src.String(), "error", err)
		return []Issue{{
			Code:     errors.CodeRemoteUnavailable,
			Message:  "remote syntax validation could not be performed",
			Severity: SeverityHigh,
		}}, nil
	}

	for _, e := range report.SyntaxErrors {
		errs = append(errs, issueFromRemote(e, SeverityHigh, errors.CodeSyntaxError))
	}
	for _, w := range report.FormatWarnings {
		warns = append(warns, issueFromRemote(w, SeverityLow, "FORMAT_WARNING"))
	}
	return errs, warns
}

// finish scores the accumulated issues and records instrumentation.
func (p *Pipeline) finish(target string, errs, warns []Issue) Result {
	res := score(errs, warns)
	if p.metrics != nil {
		for _, i := range errs {
			p.metrics.RecordValidationIssue("error", string(i.Severity))
		}
		for _, i := range warns {
			p.metrics.RecordValidationIssue("warning", string(i.Severity))
		}
		p.metrics.RecordConfidence(target, res.ConfidenceScore)
	}
	return res
}

func issueFromRemote(r remote.RemoteIssue, fallback Severity, fallbackCode string) Issue {
	sev := parseSeverity(r.Severity, fallback)
	code := r.Code
	if code == "" {
		code = fallbackCode
	}
	issue := Issue{Code: code, Message: r.Message, Severity: sev}
	if r.Line > 0 || r.Column > 0 {
		issue.Location = &Location{Line: r.Line, Column: r.Column}
	}
	return issue
}

func parseSeverity(s string, fallback Severity) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	default:
		return fallback
	}
}
