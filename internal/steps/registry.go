package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/metrics"
	"github.com/rendis/autoflow/pkg/schema"
)

// Dispatcher is the thread-safe registry of step handlers. It routes a step
// to the handler for its type and turns every failure mode into a
// StepResult.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[schema.StepType]Handler

	validator ConfigValidator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithValidator checks step configs against handler schemas before execution.
func WithValidator(v ConfigValidator) DispatcherOption {
	return func(d *Dispatcher) { d.validator = v }
}

// WithMetrics records per-step counters and durations.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{handlers: make(map[schema.StepType]Handler)}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.Or(d.logger)
	return d
}

// Register adds a handler. Returns error on a duplicate step type.
func (d *Dispatcher) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	t := h.Type()
	if t == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler step type is empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for %s already registered", t)
	}
	d.handlers[t] = h
	return nil
}

// Get retrieves the handler for a step type.
func (d *Dispatcher) Get(t schema.StepType) (Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.handlers[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHandlerUnavailable, "unknown step type: %s", t)
	}
	return h, nil
}

// Has reports whether a handler is registered for t.
func (d *Dispatcher) Has(t schema.StepType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[t]
	return ok
}

// List returns info for all registered handlers, sorted by type.
func (d *Dispatcher) List() []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]HandlerInfo, 0, len(d.handlers))
	for t, h := range d.handlers {
		infos = append(infos, HandlerInfo{Type: t, Description: h.Schema().Description})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// Dispatch runs one step. Unknown types, invalid configs, timeouts and
// panics all come back as failed results.
func (d *Dispatcher) Dispatch(ctx context.Context, step schema.Step, data *schema.ExecutionData) (result schema.StepResult) {
	logger := logging.LogWith(ctx, d.logger).With("step_type", string(step.Type))
	start := time.Now()
	defer func() {
		d.metrics.StepFinished(string(step.Type), result.Success, time.Since(start))
	}()

	h, err := d.Get(step.Type)
	if err != nil {
		return fail(err)
	}

	cfg := step.Config
	if cfg == nil {
		cfg = map[string]any{}
	}

	if d.validator != nil {
		if raw := h.Schema().ConfigSchema; len(raw) > 0 {
			if err := d.validator.ValidateConfig(cfg, raw); err != nil {
				return schema.Failed(fmt.Sprintf("invalid %s config: %s", step.Type, configErrorText(err)))
			}
		}
	}

	timeout := durationParam(cfg, "timeout", 0)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("step handler panicked", "panic", fmt.Sprint(r))
			result = schema.Failed(fmt.Sprintf("step panicked: %v", r))
		}
	}()

	result = h.Execute(ctx, cfg, data)

	if !result.Success && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Error = fmt.Sprintf("step timed out after %s: %s", timeout, result.Error)
	}
	if result.Success {
		logger.Debug("step succeeded", "duration_ms", time.Since(start).Milliseconds())
	} else {
		logger.Warn("step failed", "error", result.Error)
	}
	return result
}

// configErrorText flattens schema violations into one line.
func configErrorText(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if v, ok := fe.Details["violations"].([]string); ok && len(v) > 0 {
			return fmt.Sprintf("%s (%v)", fe.Message, v)
		}
		return fe.Message
	}
	return err.Error()
}
