package oracleadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/echelon-labs/verify/internal/app/apperr"
	"github.com/echelon-labs/verify/internal/app/domain"
	"github.com/echelon-labs/verify/pkg/config"
)

// Payload is what an in-process callable receives: the record fields
// plus the follow-up question, the Go analogue of the dict passed to a
// Python callable.
type Payload struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	DiffContent      string   `json:"diff_content"`
	FilesChanged     []string `json:"files_changed"`
	FollowUpQuestion string   `json:"follow_up_question"`
}

// Callable is a registrable in-process oracle implementation. Go has
// no runtime module-loading analogue to a dynamic "import module, get
// attribute" lookup, so callables are registered by name at process
// init time instead and resolved from the Registry at construction.
type Callable func(ctx context.Context, payload Payload) (any, error)

// Registry holds named callables under "module/callable" keys.
type Registry struct {
	mu        sync.RWMutex
	callables map[string]Callable
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{callables: make(map[string]Callable)}
}

// Register adds a callable under the given module and name. Intended
// to be called from an init() in the package defining the callable.
func (r *Registry) Register(module, name string, fn Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callables[key(module, name)] = fn
}

func (r *Registry) lookup(module, name string) (Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.callables[key(module, name)]
	return fn, ok
}

func key(module, name string) string { return module + "/" + name }

// InProcessAdapter invokes a registered Go callable in place of a
// network round-trip.
type InProcessAdapter struct {
	fn Callable
}

// NewInProcess resolves cfg.Module/cfg.Callable against registry.
// Missing module or callable is a configuration error raised
// immediately, matching the HTTP variant's fail-fast-at-construction
// contract.
func NewInProcess(cfg config.OracleConfig, registry *Registry) (*InProcessAdapter, error) {
	if registry == nil {
		return nil, apperr.Configuration("oracle: no in-process registry configured")
	}
	fn, ok := registry.lookup(cfg.Module, cfg.Callable)
	if !ok {
		return nil, apperr.Configuration("oracle: no callable registered for %s/%s", cfg.Module, cfg.Callable)
	}
	return &InProcessAdapter{fn: fn}, nil
}

// Invoke runs the registered callable on its own goroutine so a
// synchronous implementation cannot block the orchestrator's
// suspension points, and always returns a populated envelope — a
// panic or error from the callable becomes an error envelope, never a
// propagated exception.
func (a *InProcessAdapter) Invoke(ctx context.Context, record domain.GroundTruthRecord, followUpQuestion string) domain.OracleOutput {
	start := time.Now()
	payload := Payload{
		ID:               record.ID,
		Title:            record.Title,
		Description:      record.Description,
		DiffContent:      record.DiffContent,
		FilesChanged:     record.FilesChanged,
		FollowUpQuestion: followUpQuestion,
	}

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("callable panicked: %v", r)}
			}
		}()
		v, err := a.fn(ctx, payload)
		done <- result{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return errorEnvelope(record.ID, followUpQuestion, start, "timeout")
	case res := <-done:
		if res.err != nil {
			return errorEnvelope(record.ID, followUpQuestion, start, res.err.Error())
		}
		return coerceResult(record.ID, followUpQuestion, start, res.val)
	}
}

// coerceResult interprets a callable's return value using the same
// keys as the HTTP response envelope; a value that isn't shaped like
// that map is coerced into an envelope whose summary is its string
// form, matching the non-mapping-return rule of the HTTP contract's
// in-process counterpart.
func coerceResult(groundTruthID, question string, start time.Time, v any) domain.OracleOutput {
	base := domain.OracleOutput{
		GroundTruthID:    groundTruthID,
		KeyClaims:        []string{},
		FollowUpQuestion: question,
		Metadata:         map[string]any{},
		InvokedAt:        start.UTC(),
		LatencyMS:        time.Since(start).Milliseconds(),
	}

	m, ok := v.(map[string]any)
	if !ok {
		base.Summary = fmt.Sprintf("%v", v)
		return base
	}

	if s, ok := m["summary"].(string); ok {
		base.Summary = s
	}
	if claims, ok := m["key_claims"].([]string); ok {
		base.KeyClaims = claims
	} else if claimsAny, ok := m["key_claims"].([]any); ok {
		claims := make([]string, 0, len(claimsAny))
		for _, c := range claimsAny {
			if s, ok := c.(string); ok {
				claims = append(claims, s)
			}
		}
		base.KeyClaims = claims
	}
	if r, ok := m["follow_up_response"].(string); ok {
		base.FollowUpResponse = r
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		base.Metadata = md
	}
	return base
}
