package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rulebridge/rulebridge/batch"
	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/ratelimit"
	"github.com/rulebridge/rulebridge/scm"
)

// batchRegistry tracks in-flight orchestrators so callers can poll
// progress or abort by batch id. Entries persist after completion until
// Forget, so a poller that races the final chunk still sees a terminal
// status.
type batchRegistry struct {
	mu     sync.RWMutex
	active map[string]*batch.Orchestrator[TranslateResponse]
}

func newBatchRegistry() *batchRegistry {
	return &batchRegistry{active: make(map[string]*batch.Orchestrator[TranslateResponse])}
}

func (r *batchRegistry) put(id string, o *batch.Orchestrator[TranslateResponse]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = o
}

func (r *batchRegistry) get(id string) (*batch.Orchestrator[TranslateResponse], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.active[id]
	return o, ok
}

func (r *batchRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// ProcessBatch admits and runs a batch inline, translating items in
// bounded-concurrency chunks. Partial results survive early
// termination; item errors are reported per index, never merged into
// the batch-level error.
func (s *TranslationService) ProcessBatch(ctx context.Context, req BatchRequest) (batch.BatchResult[TranslateResponse], error) {
	if req.BatchID == "" {
		req.BatchID = uuid.New().String()
	}

	if err := s.admit(ctx, req.CallerKey, ratelimit.ClassBatchTranslate, "ProcessBatch"); err != nil {
		return batch.BatchResult[TranslateResponse]{BatchID: req.BatchID}, err
	}

	return s.runBatch(ctx, req)
}

// runBatch is the admission-free core shared with the queue consumer.
func (s *TranslationService) runBatch(ctx context.Context, req BatchRequest) (batch.BatchResult[TranslateResponse], error) {
	orch := batch.NewOrchestrator(s.translateItem,
		batch.WithMaxBatchSize[TranslateResponse](s.maxBatchSize),
		batch.WithBatchLogger[TranslateResponse](s.logger))

	s.batches.put(req.BatchID, orch)

	result, err := orch.ProcessBatch(ctx, req.Items, req.TargetFormat, batch.Options{
		MaxConcurrent:   s.maxConcurrent,
		ContinueOnError: req.ContinueOnError,
	})
	result.BatchID = req.BatchID
	return result, err
}

// translateItem adapts the single-translation core to the orchestrator's
// per-item contract. Admission happened once for the whole batch.
func (s *TranslationService) translateItem(ctx context.Context, _ int, item batch.Item, targetFormat string) (TranslateResponse, error) {
	resp, err := s.translate(ctx, TranslateRequest{
		RequestID:    uuid.New().String(),
		SourceFormat: item.SourceFormat,
		TargetFormat: targetFormat,
		Content:      item.Content,
	})
	if err != nil {
		return TranslateResponse{}, err
	}
	if resp.Status == StatusInvalid {
		return TranslateResponse{}, invalidItemError(resp)
	}
	return resp, nil
}

// invalidItemError surfaces the first validation error so the batch
// failure list carries an actionable message per item. The sentinel is
// chosen from the issue code so CodeOf reports the right stable code.
func invalidItemError(resp TranslateResponse) error {
	if len(resp.Validation.Errors) > 0 {
		first := resp.Validation.Errors[0]
		sentinel := errors.ErrUnknownFormat
		if first.Code == errors.CodeFormatCompatibility {
			sentinel = errors.ErrUnsupportedPair
		}
		return errors.WrapInput(sentinel, "service", "ProcessBatch", first.Message)
	}
	return errors.WrapInput(errors.ErrUnknownFormat, "service", "ProcessBatch", "validation rejected item")
}

// BatchProgress returns the live progress for an in-flight or recently
// finished batch.
func (s *TranslationService) BatchProgress(batchID string) (batch.BatchProgress, bool) {
	orch, ok := s.batches.get(batchID)
	if !ok {
		return batch.BatchProgress{}, false
	}
	return orch.Progress(), true
}

// AbortBatch cooperatively stops a batch: no new chunks start, in-flight
// items finish.
func (s *TranslationService) AbortBatch(batchID string) bool {
	orch, ok := s.batches.get(batchID)
	if !ok {
		return false
	}
	orch.Abort()
	return true
}

// ForgetBatch drops a finished batch from the progress registry.
func (s *TranslationService) ForgetBatch(batchID string) {
	s.batches.remove(batchID)
}

// ListBatchSources lists candidate rule files from the source-control
// collaborator for batch assembly. The collaborator owns pagination and
// content retrieval. Admitted under the read class, which fails open.
func (s *TranslationService) ListBatchSources(ctx context.Context, callerKey, path, ref string) ([]scm.File, error) {
	if s.repos == nil {
		return nil, errors.Wrap(errors.ErrMissingConfig, "service", "ListBatchSources", "no source-control collaborator configured")
	}
	if err := s.admit(ctx, callerKey, ratelimit.ClassRead, "ListBatchSources"); err != nil {
		return nil, err
	}
	files, err := s.repos.ListFiles(ctx, path, ref)
	if err != nil {
		return nil, errors.WrapDownstream(err, "service", "ListBatchSources", "list repository files")
	}
	return files, nil
}

// SyncBatchSources refreshes the collaborator's view of a repository
// before listing.
func (s *TranslationService) SyncBatchSources(ctx context.Context, callerKey, repoID, branch string) (scm.SyncResult, error) {
	if s.repos == nil {
		return scm.SyncResult{}, errors.Wrap(errors.ErrMissingConfig, "service", "SyncBatchSources", "no source-control collaborator configured")
	}
	if err := s.admit(ctx, callerKey, ratelimit.ClassSyncOperation, "SyncBatchSources"); err != nil {
		return scm.SyncResult{}, err
	}
	res, err := s.repos.Sync(ctx, repoID, branch)
	if err != nil {
		return scm.SyncResult{}, errors.WrapDownstream(err, "service", "SyncBatchSources", "sync repository")
	}
	return res, nil
}
