package mapping

import (
	"fmt"

	"github.com/notegate/notegate/config"
)

// RequestMapping is a compiled request template. Evaluating it against a
// Context yields an OperationDescriptor; same template and same context
// always yield the same descriptor.
type RequestMapping struct {
	engine       *Engine
	kind         OpKind
	key          map[string]string
	attributes   map[string]string
	keyCondition map[string]string
	limit        string
	cursor       string
}

// CompileRequest compiles every leaf expression of a request template.
func (e *Engine) CompileRequest(t config.RequestTemplate) (*RequestMapping, error) {
	m := &RequestMapping{
		engine:       e,
		kind:         OpKind(t.Operation),
		key:          t.Key,
		attributes:   t.Attributes,
		keyCondition: t.KeyCondition,
		limit:        t.Limit,
		cursor:       t.Cursor,
	}
	for _, exprs := range []map[string]string{t.Key, t.Attributes, t.KeyCondition} {
		for _, src := range exprs {
			if err := e.Compile(src); err != nil {
				return nil, err
			}
		}
	}
	for _, src := range []string{t.Limit, t.Cursor} {
		if src != "" {
			if err := e.Compile(src); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Evaluate produces the operation descriptor for one invocation.
func (m *RequestMapping) Evaluate(ctx *Context) (*OperationDescriptor, error) {
	env := baseEnv(ctx)
	desc := &OperationDescriptor{Kind: m.kind}

	var err error
	if desc.Key, err = m.evalValues(m.key, env); err != nil {
		return nil, err
	}
	if desc.Attributes, err = m.evalValues(m.attributes, env); err != nil {
		return nil, err
	}
	if desc.KeyCondition, err = m.evalValues(m.keyCondition, env); err != nil {
		return nil, err
	}

	if m.limit != "" {
		out, err := m.engine.eval(m.limit, env)
		if err != nil {
			return nil, err
		}
		if out != nil {
			if desc.Limit, err = coerceInt(m.limit, out); err != nil {
				return nil, err
			}
		}
	}
	if m.cursor != "" {
		out, err := m.engine.eval(m.cursor, env)
		if err != nil {
			return nil, err
		}
		if out != nil {
			s, ok := out.(string)
			if !ok {
				return nil, &EvaluationError{
					Kind:    TypeMismatch,
					Expr:    m.cursor,
					Message: fmt.Sprintf("cursor must be a string, got %T", out),
				}
			}
			desc.Cursor = s
		}
	}
	return desc, nil
}

// evalValues evaluates a map of leaf expressions into typed values. A null
// result is an undefined reference: key and attribute positions always need
// a concrete value, and templates opt out explicitly with defaultIfNull.
func (m *RequestMapping) evalValues(exprs map[string]string, env map[string]interface{}) (map[string]Value, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	values := make(map[string]Value, len(exprs))
	for name, src := range exprs {
		out, err := m.engine.eval(src, env)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, &EvaluationError{
				Kind:    UndefinedReference,
				Expr:    src,
				Message: fmt.Sprintf("no value for %q and no default supplied", name),
			}
		}
		v, err := coerceValue(src, out)
		if err != nil {
			return nil, err
		}
		values[name] = v
	}
	return values, nil
}

// ResponseMapping is a compiled response template. It shapes a backend
// result into the GraphQL field value.
type ResponseMapping struct {
	engine *Engine
	src    string
}

// CompileResponse compiles a response template expression.
func (e *Engine) CompileResponse(src string) (*ResponseMapping, error) {
	if err := e.Compile(src); err != nil {
		return nil, err
	}
	return &ResponseMapping{engine: e, src: src}, nil
}

// Evaluate shapes the backend result. The result is exposed to the template
// as "result" alongside the usual context values.
func (m *ResponseMapping) Evaluate(ctx *Context, result map[string]interface{}) (interface{}, error) {
	env := baseEnv(ctx)
	if result == nil {
		result = map[string]interface{}{}
	}
	env["result"] = result
	return m.engine.eval(m.src, env)
}
