// Package script implements the orchestration script runtime: a sandboxed
// JavaScript DSL through which an agent plan invokes tools and a model under
// strict resource governance. Scripts run against a fixed binding table in
// an isolated VM, bounded by a wall-clock deadline, a cumulative loop budget
// and a concurrency-limited map primitive.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kazi/internal/governor"
	"github.com/jkaninda/kazi/internal/llm"
	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/store"
	"github.com/jkaninda/kazi/internal/tools"
)

// Fatal error classes. Only these terminate an execution with an error
// envelope; tool and model failures degrade to in-script "ERROR: " values.
var (
	ErrValidation = errors.New("script validation failed")
	ErrLoopBudget = errors.New("loop exceeded maximum iterations")
	ErrTimeout    = errors.New("execution timed out")
)

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Defaults applied when Options leaves a limit unset.
const (
	DefaultTimeout           = 60 * time.Second
	DefaultMaxLoopIterations = 10000
	DefaultMapConcurrency    = 3
)

// Result is the envelope returned for every execution, success or failure.
// Logs accumulate on both paths so a failed run still shows what happened
// up to the point of failure.
type Result struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Value    any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Logs     []string      `json:"logs"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Options configures a Runtime. Zero values get sensible defaults; nil
// collaborators disable the corresponding bindings or observability.
type Options struct {
	Tools             *tools.Registry
	Provider          llm.Provider
	ProviderMaxTokens int
	Store             store.Store
	Output            *OutputBuffer
	Logger            *slog.Logger
	Observability     *observability.Observability
	Timeout           time.Duration
	MaxLoopIterations int
	MapConcurrency    int

	// LLMLimiter optionally caps concurrent model calls globally, shared
	// across runtimes.
	LLMLimiter *governor.Governor
}

// Runtime executes orchestration scripts for one logical session. The
// session store and output buffer live as long as the runtime; each
// Execute call gets a fresh, isolated VM.
//
// Execute calls on one Runtime serialize: the store and output buffer are
// shared mutable state, so overlapping executions queue on an internal lock
// instead of racing.
type Runtime struct {
	tools     *tools.Registry
	provider  llm.Provider
	maxTokens int
	store     store.Store
	output    *OutputBuffer
	logger    *slog.Logger
	metrics   *observability.MetricsCollector
	tracer    trace.Tracer
	timeout   time.Duration
	loopMax   int64
	mapGov    *governor.Governor
	llmGov    *governor.Governor

	mu sync.Mutex
}

// New creates a Runtime from opts.
func New(opts Options) *Runtime {
	r := &Runtime{
		tools:     opts.Tools,
		provider:  opts.Provider,
		maxTokens: opts.ProviderMaxTokens,
		store:     opts.Store,
		output:    opts.Output,
		logger:    opts.Logger,
		timeout:   opts.Timeout,
		loopMax:   int64(opts.MaxLoopIterations),
		llmGov:    opts.LLMLimiter,
	}
	if r.tools == nil {
		r.tools = tools.NewRegistry()
	}
	if r.store == nil {
		r.store = store.NewMemory()
	}
	if r.output == nil {
		r.output = NewOutputBuffer()
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.loopMax <= 0 {
		r.loopMax = DefaultMaxLoopIterations
	}
	mc := opts.MapConcurrency
	if mc <= 0 {
		mc = DefaultMapConcurrency
	}
	r.mapGov = governor.New(mc)
	if opts.Observability != nil {
		r.metrics = opts.Observability.Metrics
		if opts.Observability.Tracer != nil {
			r.tracer = opts.Observability.Tracer.Tracer()
		}
	}
	return r
}

// Store returns the runtime's session store.
func (r *Runtime) Store() store.Store { return r.store }

// Output returns the runtime's output buffer.
func (r *Runtime) Output() *OutputBuffer { return r.output }

// Close releases the session store.
func (r *Runtime) Close() error { return r.store.Close() }

// Execute validates, transforms and runs one script, returning its result
// envelope. It never panics and never returns nil.
func (r *Runtime) Execute(ctx context.Context, source string) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	res := &Result{ID: uuid.NewString(), Status: StatusError}

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "script.execute",
			trace.WithAttributes(attribute.String("script.id", res.ID)))
		defer span.End()
	}

	st := &execState{rt: r, id: res.ID, ctx: ctx}

	if span != nil {
		span.AddEvent("validate_start")
	}
	if err := Validate(source); err != nil {
		r.logger.WarnContext(ctx, "script rejected",
			slog.String("id", res.ID),
			slog.String("error", err.Error()),
		)
		if span != nil {
			span.AddEvent("validate_failed")
		}
		return r.finish(res, st, span, err, start)
	}
	if span != nil {
		span.AddEvent("validate_complete")
		span.AddEvent("transform_start")
	}

	transformed, err := Transform(source)
	if err != nil {
		return r.finish(res, st, span, err, start)
	}
	if span != nil {
		span.AddEvent("transform_complete")
		span.AddEvent("execute_start")
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	st.ctx = runCtx

	vm := st.newVM(false)

	// The deadline watcher interrupts every VM of this execution, workers
	// included. In-flight map items are abandoned; their permits are still
	// released by the goroutines that hold them.
	finished := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				st.interruptAll(ErrTimeout)
			} else {
				st.interruptAll(runCtx.Err())
			}
		case <-finished:
		}
	}()

	value, runErr := vm.RunString(transformed)
	close(finished)

	if runErr != nil {
		return r.finish(res, st, span, r.classify(runErr), start)
	}

	res.Status = StatusSuccess
	res.Value = exportValue(value)
	return r.finish(res, st, span, nil, start)
}

// finish seals the envelope and records metrics and span status.
func (r *Runtime) finish(res *Result, st *execState, span trace.Span, err error, start time.Time) *Result {
	res.Duration = time.Since(start)
	res.Logs = st.snapshotLogs()
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
	}

	if r.metrics != nil {
		r.metrics.ScriptExecutionsTotal.WithLabelValues(res.Status).Inc()
		r.metrics.ScriptExecutionDuration.Observe(res.Duration.Seconds())
	}
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.AddEvent("execute_complete")
			span.SetStatus(codes.Ok, "")
		}
	}

	r.logger.InfoContext(st.ctx, "script execution finished",
		slog.String("id", res.ID),
		slog.String("status", res.Status),
		slog.Duration("duration", res.Duration),
	)
	return res
}

// classify maps a goja error to the error taxonomy: interrupts carry the
// timeout or loop-budget sentinel, everything else is an uncaught script
// error.
func (r *Runtime) classify(runErr error) error {
	var intr *goja.InterruptedError
	if errors.As(runErr, &intr) {
		switch v := intr.Value().(type) {
		case error:
			if errors.Is(v, ErrTimeout) {
				return fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
			}
			if errors.Is(v, ErrLoopBudget) {
				return fmt.Errorf("%w (%d)", ErrLoopBudget, r.loopMax)
			}
			return v
		default:
			return fmt.Errorf("execution interrupted: %v", v)
		}
	}
	var ex *goja.Exception
	if errors.As(runErr, &ex) {
		return fmt.Errorf("script error: %s", ex.Error())
	}
	return runErr
}

// execState is the per-execution context: loop counter, log accumulator and
// the registry of live VMs for deadline propagation. Owned by exactly one
// in-flight execution.
type execState struct {
	rt    *Runtime
	id    string
	ctx   context.Context
	loops atomic.Int64

	mu    sync.Mutex
	logs  []string
	vms   []*goja.Runtime
	cause any // first interrupt cause, nil while running
}

func (st *execState) log(msg string) {
	st.mu.Lock()
	st.logs = append(st.logs, msg)
	st.mu.Unlock()
	st.rt.logger.DebugContext(st.ctx, "script log",
		slog.String("id", st.id),
		slog.String("message", msg),
	)
}

func (st *execState) logf(format string, args ...any) {
	st.log(fmt.Sprintf(format, args...))
}

func (st *execState) snapshotLogs() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, len(st.logs))
	copy(out, st.logs)
	return out
}

// registerVM adds a VM to the interrupt set. A VM created after the
// execution was already interrupted is interrupted immediately so late map
// workers cannot outlive the deadline.
func (st *execState) registerVM(vm *goja.Runtime) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.vms = append(st.vms, vm)
	if st.cause != nil {
		vm.Interrupt(st.cause)
	}
}

// interruptAll aborts every VM of this execution. The first cause wins.
func (st *execState) interruptAll(cause any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cause != nil {
		return
	}
	st.cause = cause
	for _, vm := range st.vms {
		vm.Interrupt(cause)
	}
}

// exportValue converts a goja value to plain Go data for the envelope.
func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
