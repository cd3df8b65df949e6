// Package mapping implements the template engine that turns a request context
// into a backend operation descriptor, and a backend result into a GraphQL
// field value. Templates are declarative: the descriptor shape comes from
// configuration and every leaf is an expression evaluated against the
// per-invocation context. Evaluation is pure; the engine performs no I/O.
package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrorKind classifies template evaluation failures.
type ErrorKind string

const (
	// UndefinedReference means a referenced context path was absent and no
	// default was supplied.
	UndefinedReference ErrorKind = "UndefinedReference"
	// TypeMismatch means a coercion target type cannot represent the value.
	TypeMismatch ErrorKind = "TypeMismatch"
)

// EvaluationError reports a failed template evaluation.
type EvaluationError struct {
	Kind    ErrorKind
	Expr    string
	Message string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("template %q: %s: %s", e.Expr, e.Kind, e.Message)
}

// Context is the per-invocation input to template evaluation. It is built
// fresh for every field resolution and never shared across requests.
type Context struct {
	// Identity holds the authenticated caller's claims, including "sub".
	Identity map[string]interface{}
	// Args holds the GraphQL field arguments.
	Args map[string]interface{}
	// Source holds the parent field's resolved value for nested fields.
	Source map[string]interface{}
}

// Engine compiles template expressions once and evaluates them per request.
// Compiled programs are cached by source; the cache only grows during
// startup compilation and is safe for concurrent reads afterwards.
type Engine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{programs: make(map[string]*vm.Program)}
}

// Compile parses an expression and caches the compiled program. Returned
// errors are meant to be fatal at startup.
func (e *Engine) Compile(src string) error {
	e.mu.RLock()
	_, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return nil
	}
	program, err := expr.Compile(src)
	if err != nil {
		return fmt.Errorf("compile template %q: %w", src, err)
	}
	e.mu.Lock()
	e.programs[src] = program
	e.mu.Unlock()
	return nil
}

// eval runs a previously compiled expression against an environment.
func (e *Engine) eval(src string, env map[string]interface{}) (interface{}, error) {
	e.mu.RLock()
	program, ok := e.programs[src]
	e.mu.RUnlock()
	if !ok {
		// Bindings compile all expressions at startup; reaching here means a
		// template bypassed compilation.
		return nil, &EvaluationError{Kind: TypeMismatch, Expr: src, Message: "template was not compiled"}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		var evalErr *EvaluationError
		if errors.As(err, &evalErr) {
			return nil, evalErr
		}
		return nil, &EvaluationError{Kind: TypeMismatch, Expr: src, Message: err.Error()}
	}
	return out, nil
}

// baseEnv builds the evaluation environment: context values plus the pure
// helper functions available to templates.
func baseEnv(ctx *Context) map[string]interface{} {
	identity := ctx.Identity
	if identity == nil {
		identity = map[string]interface{}{}
	}
	args := ctx.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	source := ctx.Source
	if source == nil {
		source = map[string]interface{}{}
	}
	return map[string]interface{}{
		"identity": identity,
		"args":     args,
		"source":   source,
		"toJson": func(v interface{}) (interface{}, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, &EvaluationError{Kind: TypeMismatch, Expr: "toJson", Message: err.Error()}
			}
			return string(b), nil
		},
		"defaultIfNull": func(v, fallback interface{}) interface{} {
			if v == nil {
				return fallback
			}
			return v
		},
		"str": func(v interface{}) (interface{}, error) {
			s, err := coerceString(v)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		"num": func(v interface{}) (interface{}, error) {
			n, err := coerceNumber(v)
			if err != nil {
				return nil, err
			}
			return n, nil
		},
		"bool": func(v interface{}) (interface{}, error) {
			b, err := coerceBool(v)
			if err != nil {
				return nil, err
			}
			return b, nil
		},
	}
}

func coerceString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case nil:
		return "", &EvaluationError{Kind: UndefinedReference, Expr: "str", Message: "value is null"}
	default:
		return "", &EvaluationError{Kind: TypeMismatch, Expr: "str", Message: fmt.Sprintf("cannot represent %T as string", v)}
	}
}

func coerceNumber(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, &EvaluationError{Kind: TypeMismatch, Expr: "num", Message: fmt.Sprintf("cannot represent %q as number", t)}
		}
		return n, nil
	case nil:
		return 0, &EvaluationError{Kind: UndefinedReference, Expr: "num", Message: "value is null"}
	default:
		return 0, &EvaluationError{Kind: TypeMismatch, Expr: "num", Message: fmt.Sprintf("cannot represent %T as number", v)}
	}
}

func coerceBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, &EvaluationError{Kind: TypeMismatch, Expr: "bool", Message: fmt.Sprintf("cannot represent %q as boolean", t)}
		}
		return b, nil
	case nil:
		return false, &EvaluationError{Kind: UndefinedReference, Expr: "bool", Message: "value is null"}
	default:
		return false, &EvaluationError{Kind: TypeMismatch, Expr: "bool", Message: fmt.Sprintf("cannot represent %T as boolean", v)}
	}
}

// coerceInt narrows a template value to a whole number.
func coerceInt(src string, v interface{}) (int32, error) {
	n, err := coerceNumber(v)
	if err != nil {
		ee := err.(*EvaluationError)
		ee.Expr = src
		return 0, ee
	}
	if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
		return 0, &EvaluationError{Kind: TypeMismatch, Expr: src, Message: fmt.Sprintf("cannot represent %v as Int", n)}
	}
	return int32(n), nil
}
