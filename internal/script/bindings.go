package script

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kazi/internal/llm"
)

// nativeBindingProp marks binding function objects with their binding name
// so map() can dispatch them straight to the Go implementation instead of
// shipping function source to a worker VM.
const nativeBindingProp = "__nativeBinding"

// newVM builds a hardened VM carrying the full binding table and registers
// it for interrupt propagation. Both the main VM and map worker VMs are
// created here, so workers share the loop counter, store, output and logs
// through st.
func (st *execState) newVM(worker bool) *goja.Runtime {
	vm := goja.New()
	hardenVM(vm)
	st.installBindings(vm, worker)
	st.registerVM(vm)
	return vm
}

// hardenVM removes dynamic evaluation from the VM. The validator already
// rejects these identifiers; this is defense in depth.
func hardenVM(vm *goja.Runtime) {
	_ = vm.Set("eval", goja.Undefined())
	_, _ = vm.RunString(`Function = undefined;`)
}

// installBindings populates the flat binding namespace. Tools install
// first; core bindings win on a name collision.
func (st *execState) installBindings(vm *goja.Runtime, worker bool) {
	for _, name := range st.rt.tools.List() {
		st.setNativeBinding(vm, name, func(name string) func(goja.FunctionCall) goja.Value {
			return func(call goja.FunctionCall) goja.Value {
				return vm.ToValue(st.invokeTool(name, exportParams(call.Argument(0))))
			}
		}(name))
	}

	st.setNativeBinding(vm, "llm", func(call goja.FunctionCall) goja.Value {
		instruction := call.Argument(0).String()
		data := exportValue(call.Argument(1))
		opts, _ := exportValue(call.Argument(2)).(map[string]any)
		return vm.ToValue(st.invokeLLM(instruction, data, opts))
	})

	st.installMap(vm, worker)

	_ = vm.Set(loopGuardName, func() {
		n := st.loops.Add(1)
		if st.rt.metrics != nil {
			st.rt.metrics.LoopIterationsTotal.Inc()
		}
		if n > st.rt.loopMax {
			st.interruptAll(ErrLoopBudget)
		}
	})

	_ = vm.Set("storeGet", func(call goja.FunctionCall) goja.Value {
		v, ok, err := st.rt.store.Get(st.ctx, call.Argument(0).String())
		if err != nil {
			return vm.ToValue(st.containBindingError("storeGet", err))
		}
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	_ = vm.Set("storeSet", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if err := st.rt.store.Set(st.ctx, key, exportValue(call.Argument(1))); err != nil {
			return vm.ToValue(st.containBindingError("storeSet", err))
		}
		return goja.Undefined()
	})
	_ = vm.Set("storeAppend", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if err := st.rt.store.Append(st.ctx, key, exportValue(call.Argument(1))); err != nil {
			return vm.ToValue(st.containBindingError("storeAppend", err))
		}
		return goja.Undefined()
	})
	_ = vm.Set("storeKeys", func(call goja.FunctionCall) goja.Value {
		keys, err := st.rt.store.Keys(st.ctx)
		if err != nil {
			return vm.ToValue(st.containBindingError("storeKeys", err))
		}
		return vm.ToValue(keys)
	})
	_ = vm.Set("storeAll", func(call goja.FunctionCall) goja.Value {
		all, err := st.rt.store.All(st.ctx)
		if err != nil {
			return vm.ToValue(st.containBindingError("storeAll", err))
		}
		return vm.ToValue(all)
	})

	_ = vm.Set("output", func(call goja.FunctionCall) goja.Value {
		v := call.Argument(0)
		if goja.IsUndefined(v) || goja.IsNull(v) {
			return goja.Undefined()
		}
		s := stringify(exportValue(v))
		st.rt.output.Append(s)
		st.logf("output: wrote %d chars", len(s))
		return goja.Undefined()
	})

	_ = vm.Set("log", func(call goja.FunctionCall) goja.Value {
		st.log(call.Argument(0).String())
		return goja.Undefined()
	})

	// Pure utilities. Argument conversion is goja's; a wrongly typed call
	// is a script error, not a contained binding failure.
	_ = vm.Set("chunk", ChunkString)
	_ = vm.Set("chunkByKey", ChunkBlocksByKey)
	_ = vm.Set("extractFilePaths", ExtractFilePaths)
	_ = vm.Set("flatten", Flatten)
	_ = vm.Set("unique", Unique)
	_ = vm.Set("batch", Batch)
	_ = vm.Set("groupBy", GroupBy)
	_ = vm.Set("parseJSON", func(s string) any {
		v, ok := RecoverJSON(s)
		if !ok {
			return nil
		}
		return v
	})
}

// setNativeBinding installs fn under name and tags the function object for
// native map() dispatch.
func (st *execState) setNativeBinding(vm *goja.Runtime, name string, fn func(goja.FunctionCall) goja.Value) {
	val := vm.ToValue(fn)
	if obj, ok := val.(*goja.Object); ok {
		_ = obj.Set(nativeBindingProp, name)
	}
	_ = vm.Set(name, val)
}

// invokeTool runs one registered tool. Failures never escape: they are
// logged and surfaced to the script as an "ERROR: " string so a single
// failing call degrades instead of aborting the plan.
func (st *execState) invokeTool(name string, params map[string]any) any {
	tool := st.rt.tools.Get(name)
	if tool == nil {
		return st.containBindingError(name, fmt.Errorf("tool not registered"))
	}

	ctx := st.ctx
	var span trace.Span
	if st.rt.tracer != nil {
		ctx, span = st.rt.tracer.Start(ctx, "binding."+name)
		defer span.End()
	}

	if err := tool.Validate(params); err != nil {
		return st.containSpanError(span, name, err)
	}
	res, err := tool.Execute(ctx, params)
	if err != nil {
		return st.containSpanError(span, name, err)
	}
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
	return res.Output
}

// invokeLLM runs the model-call binding: instruction plus optional data
// payload, with opts {system, schema, maxTokens}. A schema asks the model
// for JSON and parses the reply, falling back to raw text when parsing
// fails. Failures are contained like tool failures.
func (st *execState) invokeLLM(instruction string, data any, opts map[string]any) any {
	if st.rt.provider == nil {
		return st.containBindingError("llm", fmt.Errorf("no model provider configured"))
	}

	ctx := st.ctx
	var span trace.Span
	if st.rt.tracer != nil {
		ctx, span = st.rt.tracer.Start(ctx, "binding.llm",
			trace.WithAttributes(attribute.String("llm.provider", st.rt.provider.Name())))
		defer span.End()
	}

	if st.rt.llmGov != nil {
		if err := st.rt.llmGov.Acquire(ctx); err != nil {
			return st.containSpanError(span, "llm", err)
		}
		defer st.rt.llmGov.Release()
	}

	prompt := instruction
	if data != nil {
		prompt += "\n\n" + stringify(data)
	}

	var schema any
	if opts != nil {
		schema = opts["schema"]
	}
	if schema != nil {
		prompt += "\n\nRespond with JSON only, matching this schema:\n" + stringify(schema)
	}

	req := &llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens: st.rt.maxTokens,
	}
	if opts != nil {
		if sys, ok := opts["system"].(string); ok {
			req.SystemPrompt = sys
		}
		switch mt := opts["maxTokens"].(type) {
		case int64:
			req.MaxTokens = int(mt)
		case float64:
			req.MaxTokens = int(mt)
		}
	}

	resp, err := st.rt.provider.SendMessage(ctx, req)
	if err != nil {
		return st.containSpanError(span, "llm", err)
	}
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	if schema != nil {
		if v, ok := RecoverJSON(resp.Content); ok {
			return v
		}
		st.log("llm: schema parse failed, returning raw text")
	}
	return resp.Content
}

// nativeInvoker resolves a binding name to its Go implementation for
// map() dispatch.
func (st *execState) nativeInvoker(name string) (func(item any) any, bool) {
	if name == "llm" {
		return func(item any) any {
			if s, ok := item.(string); ok {
				return st.invokeLLM(s, nil, nil)
			}
			return st.invokeLLM(stringify(item), nil, nil)
		}, true
	}
	if st.rt.tools.Get(name) != nil {
		return func(item any) any {
			params, ok := item.(map[string]any)
			if !ok {
				params = map[string]any{"input": item}
			}
			return st.invokeTool(name, params)
		}, true
	}
	return nil, false
}

func (st *execState) containBindingError(name string, err error) string {
	st.logf("%s failed: %v", name, err)
	return "ERROR: " + err.Error()
}

func (st *execState) containSpanError(span trace.Span, name string, err error) string {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return st.containBindingError(name, err)
}

// exportParams converts a tool binding's argument to a parameter record.
// Non-object arguments are wrapped so the tool's own validation reports
// what is missing.
func exportParams(v goja.Value) map[string]any {
	exported := exportValue(v)
	if exported == nil {
		return map[string]any{}
	}
	if params, ok := exported.(map[string]any); ok {
		return params
	}
	return map[string]any{"input": exported}
}

// stringify renders a value for prompts and the output buffer: strings
// pass through, everything else becomes JSON.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
