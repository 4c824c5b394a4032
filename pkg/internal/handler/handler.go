// Package handler provides reflection-based handler execution for the jobs package.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Handler holds metadata about a registered job handler.
type Handler struct {
	Fn       reflect.Value
	ArgsType reflect.Type
}

// PanicError is returned when a handler panics. It is retried like any other
// handler failure.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// NewHandler creates a Handler from a function.
// The function must have signature func(ctx context.Context) error
// or func(ctx context.Context, args T) error.
func NewHandler(fn any) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, fmt.Errorf("handler function cannot be nil")
	}

	fnType := fnVal.Type()
	numIn := fnType.NumIn()
	if numIn < 1 || numIn > 2 {
		return nil, fmt.Errorf("handler must have 1-2 arguments")
	}
	if fnType.In(0) != contextType {
		return nil, fmt.Errorf("handler must take context.Context as its first argument")
	}
	if fnType.IsVariadic() {
		return nil, fmt.Errorf("handler must not be variadic")
	}
	if fnType.NumOut() != 1 || !fnType.Out(0).Implements(errorType) {
		return nil, fmt.Errorf("handler must return error")
	}

	h := &Handler{Fn: fnVal}
	if numIn == 2 {
		h.ArgsType = fnType.In(1)
	}
	return h, nil
}

// Execute decodes payload and runs the handler. A payload that does not
// decode into the handler's argument type can never succeed, so it is
// returned as a NoRetryError. Panics are recovered into a PanicError.
func (h *Handler) Execute(ctx context.Context, payload []byte) (err error) {
	if !h.Fn.IsValid() || h.Fn.IsNil() {
		return fmt.Errorf("handler function is nil or invalid")
	}

	args := []reflect.Value{reflect.ValueOf(ctx)}
	if h.ArgsType != nil {
		argVal := reflect.New(h.ArgsType)
		if len(payload) > 0 {
			if uerr := json.Unmarshal(payload, argVal.Interface()); uerr != nil {
				return core.NoRetry(fmt.Errorf("failed to unmarshal payload: %w", uerr))
			}
		}
		args = append(args, argVal.Elem())
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	results := h.Fn.Call(args)
	if res := results[0]; !res.IsNil() {
		return res.Interface().(error)
	}
	return nil
}
