package expressions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/autoflow/pkg/schema"
)

const (
	// DefaultScriptTimeout bounds a SCRIPT program when the step sets none.
	DefaultScriptTimeout = 5 * time.Second
	// DefaultMaxNodes caps the AST size of any compiled program.
	DefaultMaxNodes = 5000
)

// ExprEngine evaluates expr-lang programs: SCRIPT step code and json_filter
// predicates. The language has no I/O, reflection or module loading, so
// programs only see the variables they are given. Predicate programs are
// cached and safe for concurrent use.
type ExprEngine struct {
	maxNodes uint

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates an expr engine. maxNodes <= 0 means DefaultMaxNodes.
func NewExprEngine(maxNodes int) *ExprEngine {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	return &ExprEngine{
		maxNodes: uint(maxNodes),
		cache:    make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) an expression and runs it with
// data as its environment. Undefined variables evaluate to nil.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	return runBounded(ctx, expression, prg, env, 0)
}

// ScriptRequest is one SCRIPT invocation.
type ScriptRequest struct {
	Code    string
	Env     map[string]any
	Timeout time.Duration
	// Log receives each log(...) call from the program. May be nil.
	Log func(args ...any)
}

// RunScript compiles and runs a SCRIPT program. The program gets a log(...)
// function bound to req.Log and is cut off after req.Timeout.
func (e *ExprEngine) RunScript(ctx context.Context, req ScriptRequest) (any, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "script code is required")
	}

	sink := req.Log
	if sink == nil {
		sink = func(...any) {}
	}

	env := req.Env
	if env == nil {
		env = map[string]any{}
	}

	prg, err := expr.Compile(req.Code,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.MaxNodes(e.maxNodes),
		expr.Function("log", func(params ...any) (any, error) {
			sink(params...)
			return nil, nil
		}),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSandbox,
			"script compile error: %s", err.Error()).WithCause(err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return runBounded(ctx, "script", prg, env, timeout)
}

// runBounded runs prg on its own goroutine so a runaway program cannot hold
// the caller past ctx or timeout. The vm has no preemption; an abandoned run
// finishes in the background and its result is discarded.
func runBounded(ctx context.Context, label string, prg *vm.Program, env map[string]any, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := vm.Run(prg, env)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"expr evaluation failed for %q: %s", label, r.err.Error()).
				WithCause(r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeTimeout,
			"expr evaluation of %q exceeded its time limit", label).WithCause(ctx.Err())
	}
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.MaxNodes(e.maxNodes),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
