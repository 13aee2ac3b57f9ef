package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rulebridge/rulebridge/batch"
	"github.com/rulebridge/rulebridge/cache"
	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/format"
	"github.com/rulebridge/rulebridge/metric"
	"github.com/rulebridge/rulebridge/pkg/breaker"
	"github.com/rulebridge/rulebridge/queue"
	"github.com/rulebridge/rulebridge/ratelimit"
	"github.com/rulebridge/rulebridge/remote"
	"github.com/rulebridge/rulebridge/scm"
	"github.com/rulebridge/rulebridge/validation"
)

// Request statuses reported to callers.
const (
	StatusCompleted = "completed"
	StatusInvalid   = "invalid"
	StatusFailed    = "failed"
)

// DefaultMinConfidence is the floor below which results are not cached.
const DefaultMinConfidence = 0.85

// DefaultCacheTTL bounds how long a cached translation is served.
const DefaultCacheTTL = time.Hour

// TranslateRequest is a single translation submission. Immutable once
// admitted; the service never mutates caller input.
type TranslateRequest struct {
	RequestID    string `json:"request_id"`
	CallerKey    string `json:"caller_key"`
	SourceFormat string `json:"source_format"`
	TargetFormat string `json:"target_format"`
	Content      string `json:"content"`
	Priority     int    `json:"priority,omitempty"`
}

// TranslateResponse carries the translated content together with the
// validation verdict for the output and the final confidence score.
type TranslateResponse struct {
	RequestID         string            `json:"request_id"`
	TranslatedContent string            `json:"translated_content"`
	ConfidenceScore   float64           `json:"confidence_score"`
	Validation        validation.Result `json:"validation"`
	Status            string            `json:"status"`
	Cached            bool              `json:"cached,omitempty"`
}

// BatchRequest fans one target format across many source items.
type BatchRequest struct {
	BatchID         string       `json:"batch_id"`
	CallerKey       string       `json:"caller_key"`
	TargetFormat    string       `json:"target_format"`
	Items           []batch.Item `json:"items"`
	ContinueOnError bool         `json:"continue_on_error"`
}

// TranslationService orchestrates admission, caching, validation, and
// the breaker-guarded translation call for single and batch requests.
type TranslationService struct {
	gate       *ratelimit.Gate
	pipeline   *validation.Pipeline
	translator remote.TranslationBackend
	guard      *breaker.Breaker

	store    cache.Cache
	dispatch *queue.Dispatch
	repos    scm.Collaborator

	minConfidence float64
	cacheTTL      time.Duration
	encryptCache  bool
	maxBatchSize  int
	maxConcurrent int

	logger   *slog.Logger
	metrics  *metric.Metrics
	registry *metric.MetricsRegistry

	batches *batchRegistry
}

// ServiceOption configures a TranslationService.
type ServiceOption func(*TranslationService)

// WithCache enables translation-result caching.
func WithCache(store cache.Cache) ServiceOption {
	return func(s *TranslationService) { s.store = store }
}

// WithDispatch enables the async enqueue/consume paths.
func WithDispatch(d *queue.Dispatch) ServiceOption {
	return func(s *TranslationService) { s.dispatch = d }
}

// WithCollaborator attaches the source-control collaborator used to
// collect batch input from repositories.
func WithCollaborator(c scm.Collaborator) ServiceOption {
	return func(s *TranslationService) { s.repos = c }
}

// WithMinConfidence sets the caching floor. Results scoring below it
// are returned to the caller but never cached.
func WithMinConfidence(min float64) ServiceOption {
	return func(s *TranslationService) { s.minConfidence = min }
}

// WithCacheTTL sets how long cached translations live.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *TranslationService) { s.cacheTTL = ttl }
}

// WithCacheEncryption toggles encryption at rest for cached results.
func WithCacheEncryption(on bool) ServiceOption {
	return func(s *TranslationService) { s.encryptCache = on }
}

// WithBatchLimits overrides the batch size and chunk concurrency caps.
func WithBatchLimits(maxSize, maxConcurrent int) ServiceOption {
	return func(s *TranslationService) {
		if maxSize > 0 {
			s.maxBatchSize = maxSize
		}
		if maxConcurrent > 0 {
			s.maxConcurrent = maxConcurrent
		}
	}
}

// WithServiceLogger sets the structured logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *TranslationService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceMetrics attaches the core metrics set.
func WithServiceMetrics(m *metric.Metrics) ServiceOption {
	return func(s *TranslationService) { s.metrics = m }
}

// WithMetricsRegistry exports consumer worker-pool metrics through the
// given registry.
func WithMetricsRegistry(r *metric.MetricsRegistry) ServiceOption {
	return func(s *TranslationService) { s.registry = r }
}

// NewService constructs the orchestration service. The gate, pipeline,
// and translator are required; guard wraps every translator call and
// may be nil in tests.
func NewService(gate *ratelimit.Gate, pipeline *validation.Pipeline, translator remote.TranslationBackend, guard *breaker.Breaker, opts ...ServiceOption) *TranslationService {
	s := &TranslationService{
		gate:          gate,
		pipeline:      pipeline,
		translator:    translator,
		guard:         guard,
		minConfidence: DefaultMinConfidence,
		cacheTTL:      DefaultCacheTTL,
		maxBatchSize:  batch.DefaultMaxBatchSize,
		maxConcurrent: batch.DefaultMaxConcurrent,
		logger:        slog.Default(),
		batches:       newBatchRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cachedTranslation is the stored shape of a completed translation.
type cachedTranslation struct {
	TranslatedContent string            `json:"translated_content"`
	ConfidenceScore   float64           `json:"confidence_score"`
	Validation        validation.Result `json:"validation"`
}

// Translate runs the full inline flow: admission, cache lookup, source
// validation, breaker-guarded translation, output validation, and a
// confidence-gated cache store.
//
// Input-shaped problems surface as validation issues on the response
// with status "invalid". Only admission denials and downstream or
// infrastructure faults are returned as errors.
func (s *TranslationService) Translate(ctx context.Context, req TranslateRequest) (TranslateResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	if err := s.admit(ctx, req.CallerKey, ratelimit.ClassSingleTranslate, "Translate"); err != nil {
		return TranslateResponse{RequestID: req.RequestID}, err
	}

	return s.translate(ctx, req)
}

// translate is the admission-free core shared by the inline path, the
// queue consumers, and per-item batch processing. It is deterministic
// for a given input, which is what makes at-least-once redelivery safe.
func (s *TranslationService) translate(ctx context.Context, req TranslateRequest) (TranslateResponse, error) {
	start := time.Now()
	resp := TranslateResponse{RequestID: req.RequestID}

	key, keyOK := s.cacheKey(req)
	if keyOK {
		if hit, ok := s.cacheLookup(ctx, key); ok {
			hit.RequestID = req.RequestID
			s.record(req, StatusCompleted, start)
			return hit, nil
		}
	}

	sourceRes, err := s.pipeline.Validate(ctx, req.Content, req.SourceFormat, req.TargetFormat)
	if err != nil {
		s.record(req, StatusFailed, start)
		return resp, errors.WrapInfra(err, "service", "Translate", "validate source")
	}
	if blocked(sourceRes) {
		resp.Validation = sourceRes
		resp.ConfidenceScore = sourceRes.ConfidenceScore
		resp.Status = StatusInvalid
		s.record(req, StatusInvalid, start)
		return resp, nil
	}

	translated, err := s.invokeTranslator(ctx, req)
	if err != nil {
		s.record(req, StatusFailed, start)
		return resp, errors.WrapDownstream(err, "service", "Translate", "invoke translation backend")
	}

	outputRes, err := s.pipeline.ValidateContent(ctx, translated.TranslatedContent, req.TargetFormat)
	if err != nil {
		s.record(req, StatusFailed, start)
		return resp, errors.WrapInfra(err, "service", "Translate", "validate output")
	}

	resp.TranslatedContent = translated.TranslatedContent
	resp.Validation = outputRes
	resp.ConfidenceScore = minConfidence(translated.RawConfidence, outputRes.ConfidenceScore)
	resp.Status = StatusCompleted

	if keyOK && resp.ConfidenceScore >= s.minConfidence {
		s.cacheStore(ctx, key, resp)
	}

	s.record(req, StatusCompleted, start)
	return resp, nil
}

// invokeTranslator runs the backend call through the breaker when one
// is configured.
func (s *TranslationService) invokeTranslator(ctx context.Context, req TranslateRequest) (remote.Translation, error) {
	src, err := format.Parse(req.SourceFormat)
	if err != nil {
		return remote.Translation{}, err
	}
	dst, err := format.Parse(req.TargetFormat)
	if err != nil {
		return remote.Translation{}, err
	}
	call := func(ctx context.Context) (remote.Translation, error) {
		return s.translator.Translate(ctx, req.Content, src, dst)
	}
	if s.guard != nil {
		call = breaker.ResilientCall(s.guard, call)
	}
	return call(ctx)
}

// admit consults the gate; a nil gate admits everything (tests, trusted
// internal callers).
func (s *TranslationService) admit(ctx context.Context, callerKey string, class ratelimit.OperationClass, method string) error {
	if s.gate == nil {
		return nil
	}
	decision := s.gate.Admit(ctx, callerKey, class)
	if decision.Allowed {
		return nil
	}
	return errors.WrapAdmission(errors.ErrRateLimited, "service", method, decision.RetryAfter)
}

func (s *TranslationService) cacheKey(req TranslateRequest) (string, bool) {
	src, err := format.Parse(req.SourceFormat)
	if err != nil {
		return "", false
	}
	dst, err := format.Parse(req.TargetFormat)
	if err != nil {
		return "", false
	}
	return cache.TranslationKey(src, dst, req.Content), true
}

func (s *TranslationService) cacheLookup(ctx context.Context, key string) (TranslateResponse, bool) {
	if s.store == nil {
		return TranslateResponse{}, false
	}
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return TranslateResponse{}, false
	}
	var entry cachedTranslation
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return TranslateResponse{}, false
	}
	return TranslateResponse{
		TranslatedContent: entry.TranslatedContent,
		ConfidenceScore:   entry.ConfidenceScore,
		Validation:        entry.Validation,
		Status:            StatusCompleted,
		Cached:            true,
	}, true
}

func (s *TranslationService) cacheStore(ctx context.Context, key string, resp TranslateResponse) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(cachedTranslation{
		TranslatedContent: resp.TranslatedContent,
		ConfidenceScore:   resp.ConfidenceScore,
		Validation:        resp.Validation,
	})
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, raw, s.cacheTTL, cache.Options{Encrypt: s.encryptCache}); err != nil {
		s.logger.Warn("cache store failed", "key", key, "error", err)
	}
}

func (s *TranslationService) record(req TranslateRequest, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordTranslation(req.SourceFormat, req.TargetFormat, status)
	s.metrics.RecordTranslationLatency(req.SourceFormat, req.TargetFormat, time.Since(start))
}

// blocked reports whether the source validation found problems that
// make translating pointless: schema or pair-compatibility errors.
// Degraded remote validation alone does not block; the translation
// still runs and the reduced confidence carries the signal.
func blocked(res validation.Result) bool {
	for _, issue := range res.Errors {
		switch issue.Code {
		case errors.CodeSchemaError, errors.CodeFormatCompatibility:
			return true
		}
	}
	return false
}

func minConfidence(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
