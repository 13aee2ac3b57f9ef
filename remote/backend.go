// Package remote defines the downstream translation and syntax-validation
// backends and their HTTP and Lambda implementations. The service layer
// wraps every backend call in a circuit breaker; implementations here only
// speak the wire protocol.
package remote

import (
	"context"

	"github.com/rulebridge/rulebridge/format"
)

// Translation is a backend translation result.
type Translation struct {
	// TranslatedContent is the rule rendered in the target format.
	TranslatedContent string
	// RawConfidence is the backend's self-reported confidence in [0,1].
	RawConfidence float64
}

// RemoteIssue is a single finding reported by a validation backend.
type RemoteIssue struct {
	Code     string
	Message  string
	Severity string
	Line     int
	Column   int
}

// SyntaxReport is the outcome of a remote syntax check.
type SyntaxReport struct {
	SyntaxErrors   []RemoteIssue
	FormatWarnings []RemoteIssue
}

// TranslationBackend converts detection content between formats.
type TranslationBackend interface {
	Translate(ctx context.Context, content string, src, dst format.Format) (Translation, error)
}

// ValidationBackend checks detection content for syntax problems in a
// given format.
type ValidationBackend interface {
	CheckSyntax(ctx context.Context, content string, f format.Format) (SyntaxReport, error)
}
