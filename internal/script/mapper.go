package script

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// The map binding runs one callback per item with bounded parallelism.
// A goja VM is single-threaded, so each in-flight invocation gets its own
// worker VM carrying the same binding table and shared Go-side state (store,
// output, logs, loop counter). Script callbacks transfer by source and must
// therefore be self-contained: they see the bindings, not variables captured
// from the calling scope. Callbacks that are themselves native bindings
// (a tool, or llm) skip the worker VM and dispatch directly.

// mapInvoker is a resolved map() callback.
type mapInvoker struct {
	name   string
	native func(item any) any // non-nil for native binding dispatch
	src    string             // function source for script callbacks
}

func (st *execState) installMap(vm *goja.Runtime, nested bool) {
	_ = vm.Set("map", func(call goja.FunctionCall) goja.Value {
		items, ok := exportValue(call.Argument(0)).([]any)
		if !ok && !goja.IsUndefined(call.Argument(0)) && !goja.IsNull(call.Argument(0)) {
			panic(vm.NewTypeError("map: first argument must be an array"))
		}
		inv, err := st.resolveCallback(call.Argument(1))
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return vm.ToValue(st.runMap(items, inv, nested))
	})
}

// resolveCallback classifies the callback argument: native binding or
// script function.
func (st *execState) resolveCallback(cb goja.Value) (*mapInvoker, error) {
	obj, ok := cb.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("map: second argument must be a function")
	}
	if tag := obj.Get(nativeBindingProp); tag != nil && !goja.IsUndefined(tag) {
		name := tag.String()
		if native, ok := st.nativeInvoker(name); ok {
			return &mapInvoker{name: name, native: native}, nil
		}
	}
	if _, ok := goja.AssertFunction(cb); !ok {
		return nil, fmt.Errorf("map: second argument must be a function")
	}
	return &mapInvoker{name: "callback", src: cb.String()}, nil
}

// runMap admits items in FIFO order under the concurrency governor and
// places each result at its original index, so callers get an
// order-preserving view regardless of completion order. A failing item
// becomes an "ERROR: " string; siblings keep running.
func (st *execState) runMap(items []any, inv *mapInvoker, nested bool) []any {
	ctx := st.ctx
	var span trace.Span
	if st.rt.tracer != nil {
		ctx, span = st.rt.tracer.Start(ctx, "script.map",
			trace.WithAttributes(
				attribute.Int("map.items", len(items)),
				attribute.Int("map.concurrency", st.rt.mapGov.Limit()),
				attribute.String("map.callback", inv.name),
			))
		defer span.End()
	}

	results := make([]any, len(items))
	var wg sync.WaitGroup
	for i := range items {
		if nested {
			// A nested map already holds a permit through its parent
			// invocation. Waiting for another one can deadlock when all
			// permits are held by parents, so without a free permit the
			// item runs inline on the parent's slot.
			if !st.rt.mapGov.TryAcquire() {
				results[i] = st.invokeMapItem(i, items[i], inv)
				continue
			}
		} else if err := st.rt.mapGov.Acquire(ctx); err != nil {
			// Deadline hit while queued: the execution is being torn
			// down, the placeholder is never observed by the script.
			results[i] = "ERROR: " + err.Error()
			continue
		}
		if st.rt.metrics != nil {
			st.rt.metrics.MapInFlight.Inc()
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer st.rt.mapGov.Release()
			if st.rt.metrics != nil {
				defer st.rt.metrics.MapInFlight.Dec()
			}
			results[i] = st.invokeMapItem(i, items[i], inv)
		}(i)
	}
	wg.Wait()

	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
	return results
}

// invokeMapItem runs one callback invocation with its own child span and
// per-item error containment.
func (st *execState) invokeMapItem(index int, item any, inv *mapInvoker) any {
	var span trace.Span
	if st.rt.tracer != nil {
		_, span = st.rt.tracer.Start(st.ctx, "map."+inv.name,
			trace.WithAttributes(attribute.Int("map.index", index)))
		defer span.End()
	}

	var result any
	var err error
	if inv.native != nil {
		result = inv.native(item)
	} else {
		result, err = st.invokeScriptCallback(inv.src, item)
	}
	if err != nil {
		st.logf("map item %d failed: %v", index, err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if st.rt.metrics != nil {
			st.rt.metrics.MapItemsTotal.WithLabelValues(StatusError).Inc()
		}
		return "ERROR: " + err.Error()
	}

	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
	if st.rt.metrics != nil {
		st.rt.metrics.MapItemsTotal.WithLabelValues(StatusSuccess).Inc()
	}
	return result
}

// invokeScriptCallback evaluates the callback source on a fresh worker VM
// and applies it to item. The worker registers with the execution's
// interrupt set, so deadline and loop-budget aborts reach it.
func (st *execState) invokeScriptCallback(src string, item any) (any, error) {
	wvm := st.newVM(true)
	fnVal, err := wvm.RunString("(" + src + ")")
	if err != nil {
		return nil, fmt.Errorf("loading callback: %w", err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("callback is not a function")
	}
	v, err := fn(goja.Undefined(), wvm.ToValue(item))
	if err != nil {
		return nil, describeCallbackError(err)
	}
	return exportValue(v), nil
}

// describeCallbackError names the usual cause of a ReferenceError inside a
// map callback: callbacks run isolated per item, so variables from the
// calling scope are not visible.
func describeCallbackError(err error) error {
	if strings.Contains(err.Error(), "is not defined") {
		return fmt.Errorf("%v (map callbacks run isolated per item; pass data through items or the session store)", err)
	}
	return err
}
