package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/notegate/notegate/config"
)

func getNoteTemplate() config.RequestTemplate {
	return config.RequestTemplate{
		Operation: "GetItem",
		Key: map[string]string{
			"NoteId": "args.NoteId",
			"UserId": "identity.sub",
		},
	}
}

func TestRequestMappingGetItem(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileRequest(getNoteTemplate())
	require.NoError(t, err)

	ctx := &Context{
		Identity: map[string]interface{}{"sub": "user-1"},
		Args:     map[string]interface{}{"NoteId": "n-42"},
	}
	desc, err := m.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, OpGetItem, desc.Kind)
	require.Equal(t, StringValue("n-42"), desc.Key["NoteId"])
	require.Equal(t, StringValue("user-1"), desc.Key["UserId"])
}

func TestRequestMappingIsDeterministic(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileRequest(getNoteTemplate())
	require.NoError(t, err)

	ctx := &Context{
		Identity: map[string]interface{}{"sub": "user-1"},
		Args:     map[string]interface{}{"NoteId": "n-42"},
	}
	first, err := m.Evaluate(ctx)
	require.NoError(t, err)
	second, err := m.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRequestMappingUndefinedReference(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileRequest(getNoteTemplate())
	require.NoError(t, err)

	// No NoteId argument and no default: the key leaf evaluates to null.
	ctx := &Context{Identity: map[string]interface{}{"sub": "user-1"}}
	_, err = m.Evaluate(ctx)
	require.Error(t, err)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	require.Equal(t, UndefinedReference, evalErr.Kind)
}

func TestRequestMappingQueryDefaults(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileRequest(config.RequestTemplate{
		Operation:    "Query",
		KeyCondition: map[string]string{"UserId": "identity.sub"},
		Limit:        "defaultIfNull(args.limit, 20)",
		Cursor:       "args.nextToken",
	})
	require.NoError(t, err)

	ctx := &Context{Identity: map[string]interface{}{"sub": "user-1"}}
	desc, err := m.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, OpQuery, desc.Kind)
	require.Equal(t, StringValue("user-1"), desc.KeyCondition["UserId"])
	require.Equal(t, int32(20), desc.Limit)
	require.Empty(t, desc.Cursor)

	ctx.Args = map[string]interface{}{"limit": 3, "nextToken": "abc"}
	desc, err = m.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(3), desc.Limit)
	require.Equal(t, "abc", desc.Cursor)
}

func TestRequestMappingCursorMustBeString(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileRequest(config.RequestTemplate{
		Operation:    "Query",
		KeyCondition: map[string]string{"UserId": "identity.sub"},
		Cursor:       "args.nextToken",
	})
	require.NoError(t, err)

	ctx := &Context{
		Identity: map[string]interface{}{"sub": "user-1"},
		Args:     map[string]interface{}{"nextToken": 7},
	}
	_, err = m.Evaluate(ctx)
	require.Error(t, err)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	require.Equal(t, TypeMismatch, evalErr.Kind)
}

func TestRequestMappingLimitMustBeWhole(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileRequest(config.RequestTemplate{
		Operation:    "Query",
		KeyCondition: map[string]string{"UserId": "identity.sub"},
		Limit:        "args.limit",
	})
	require.NoError(t, err)

	ctx := &Context{
		Identity: map[string]interface{}{"sub": "user-1"},
		Args:     map[string]interface{}{"limit": 2.5},
	}
	_, err = m.Evaluate(ctx)
	require.Error(t, err)
}

func TestRequestMappingPutAttributes(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileRequest(config.RequestTemplate{
		Operation: "PutItem",
		Key: map[string]string{
			"NoteId": "args.NoteId",
			"UserId": "identity.sub",
		},
		Attributes: map[string]string{
			"title":   "args.title",
			"content": "args.content",
		},
	})
	require.NoError(t, err)

	ctx := &Context{
		Identity: map[string]interface{}{"sub": "user-1"},
		Args: map[string]interface{}{
			"NoteId":  "n-1",
			"title":   "groceries",
			"content": "milk",
		},
	}
	desc, err := m.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, StringValue("groceries"), desc.Attributes["title"])
	require.Equal(t, StringValue("milk"), desc.Attributes["content"])
}

func TestResponseMapping(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileResponse(`{"notes": result.items, "nextToken": result.nextToken}`)
	require.NoError(t, err)

	items := []interface{}{
		map[string]interface{}{"NoteId": "n-1"},
	}
	out, err := m.Evaluate(&Context{}, map[string]interface{}{
		"items":     items,
		"nextToken": "tok",
	})
	require.NoError(t, err)
	shaped, ok := out.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, items, shaped["notes"])
	require.Equal(t, "tok", shaped["nextToken"])
}

func TestResponseMappingItemProjection(t *testing.T) {
	engine := NewEngine()
	m, err := engine.CompileResponse("result.item")
	require.NoError(t, err)

	item := map[string]interface{}{"NoteId": "n-1", "title": "t"}
	out, err := m.Evaluate(&Context{}, map[string]interface{}{"item": item})
	require.NoError(t, err)
	require.Equal(t, item, out)

	// DeleteItem of an absent key reports a null item.
	out, err = m.Evaluate(&Context{}, map[string]interface{}{"item": nil})
	require.NoError(t, err)
	require.Nil(t, out)
}
