package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileRejectsBadExpression(t *testing.T) {
	engine := NewEngine()
	require.Error(t, engine.Compile("args.("))
	require.NoError(t, engine.Compile("args.limit"))
	// Compiling the same source twice is a no-op.
	require.NoError(t, engine.Compile("args.limit"))
}

func TestEvalHelpers(t *testing.T) {
	engine := NewEngine()
	ctx := &Context{
		Identity: map[string]interface{}{"sub": "user-1"},
		Args:     map[string]interface{}{"limit": 5, "title": "hello"},
	}

	tests := []struct {
		src  string
		want interface{}
	}{
		{`identity.sub`, "user-1"},
		{`defaultIfNull(args.missing, 20)`, 20},
		{`defaultIfNull(args.limit, 20)`, 5},
		{`str(args.limit)`, "5"},
		{`num("2.5")`, 2.5},
		{`bool("true")`, true},
		{`toJson(args.title)`, `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			require.NoError(t, engine.Compile(tt.src))
			out, err := engine.eval(tt.src, baseEnv(ctx))
			require.NoError(t, err)
			require.Equal(t, tt.want, out)
		})
	}
}

func TestEvalHelperFailures(t *testing.T) {
	engine := NewEngine()
	ctx := &Context{Args: map[string]interface{}{"blob": map[string]interface{}{"x": 1}}}

	tests := []struct {
		src  string
		kind ErrorKind
	}{
		{`str(args.missing)`, UndefinedReference},
		{`num(args.missing)`, UndefinedReference},
		{`bool(args.missing)`, UndefinedReference},
		{`str(args.blob)`, TypeMismatch},
		{`num("not a number")`, TypeMismatch},
		{`bool("not a bool")`, TypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			require.NoError(t, engine.Compile(tt.src))
			_, err := engine.eval(tt.src, baseEnv(ctx))
			require.Error(t, err)
			var evalErr *EvaluationError
			require.ErrorAs(t, err, &evalErr)
			require.Equal(t, tt.kind, evalErr.Kind)
		})
	}
}

func TestEvalUncompiledTemplate(t *testing.T) {
	engine := NewEngine()
	_, err := engine.eval("args.never", baseEnv(&Context{}))
	require.Error(t, err)
}

func TestCoerceInt(t *testing.T) {
	n, err := coerceInt("limit", 20)
	require.NoError(t, err)
	require.Equal(t, int32(20), n)

	n, err = coerceInt("limit", 20.0)
	require.NoError(t, err)
	require.Equal(t, int32(20), n)

	_, err = coerceInt("limit", 2.5)
	require.Error(t, err)
	_, err = coerceInt("limit", 1e12)
	require.Error(t, err)
}

func TestCoerceValue(t *testing.T) {
	v, err := coerceValue("x", "s")
	require.NoError(t, err)
	require.Equal(t, StringValue("s"), v)

	v, err = coerceValue("x", 3)
	require.NoError(t, err)
	require.Equal(t, NumberValue(3), v)

	v, err = coerceValue("x", true)
	require.NoError(t, err)
	require.Equal(t, BoolValue(true), v)

	_, err = coerceValue("x", []interface{}{1})
	require.Error(t, err)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	require.Equal(t, TypeMismatch, evalErr.Kind)
}
