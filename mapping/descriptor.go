package mapping

import "fmt"

// OpKind identifies the backend operation a request template produces.
type OpKind string

const (
	OpGetItem    OpKind = "GetItem"
	OpPutItem    OpKind = "PutItem"
	OpDeleteItem OpKind = "DeleteItem"
	OpQuery      OpKind = "Query"
)

// ValueKind is the backend's native typed encoding for attribute values.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueBool
	ValueNull
)

// Value is one typed attribute value in an operation descriptor.
type Value struct {
	Kind ValueKind
	S    string
	N    float64
	B    bool
}

// StringValue returns a string-typed Value.
func StringValue(s string) Value { return Value{Kind: ValueString, S: s} }

// NumberValue returns a number-typed Value.
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, N: n} }

// BoolValue returns a boolean-typed Value.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, B: b} }

// Native returns the value as a plain Go value.
func (v Value) Native() interface{} {
	switch v.Kind {
	case ValueString:
		return v.S
	case ValueNumber:
		return v.N
	case ValueBool:
		return v.B
	default:
		return nil
	}
}

// coerceValue maps an evaluated template leaf into the typed encoding.
// Composite values cannot be attribute values; they fail as TypeMismatch.
func coerceValue(src string, v interface{}) (Value, error) {
	switch t := v.(type) {
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case int:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case Value:
		return t, nil
	case nil:
		return Value{Kind: ValueNull}, nil
	default:
		return Value{}, &EvaluationError{
			Kind:    TypeMismatch,
			Expr:    src,
			Message: fmt.Sprintf("cannot encode %T as an attribute value", v),
		}
	}
}

// OperationDescriptor is the evaluated request mapping, consumed immediately
// by the data-source connector.
type OperationDescriptor struct {
	Kind OpKind

	// Key identifies the item for GetItem, PutItem and DeleteItem.
	Key map[string]Value
	// Attributes are the non-key attributes written by PutItem.
	Attributes map[string]Value

	// KeyCondition holds the equality conditions for Query.
	KeyCondition map[string]Value
	// Limit is the requested page size; 0 means the connector default.
	Limit int32
	// Cursor is the opaque continuation token, empty for the first page.
	Cursor string
	// Owner is the caller's subject id. Continuation cursors are bound to
	// it, so a cursor issued to one caller cannot be replayed by another.
	Owner string
}
