package datasource

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/notegate/notegate/mapping"
)

// attrValue maps a descriptor value to the wire encoding.
func attrValue(v mapping.Value) types.AttributeValue {
	switch v.Kind {
	case mapping.ValueString:
		return &types.AttributeValueMemberS{Value: v.S}
	case mapping.ValueNumber:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v.N, 'f', -1, 64)}
	case mapping.ValueBool:
		return &types.AttributeValueMemberBOOL{Value: v.B}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

// attrMap converts a descriptor value map to the wire encoding.
func attrMap(values map[string]mapping.Value) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(values))
	for name, v := range values {
		out[name] = attrValue(v)
	}
	return out
}

// keyConditionExpression builds an equality key condition with :name
// placeholders. Attributes are emitted in sorted order so the expression is
// stable for a given condition.
func keyConditionExpression(cond map[string]mapping.Value) (string, map[string]types.AttributeValue) {
	names := make([]string, 0, len(cond))
	for name := range cond {
		names = append(names, name)
	}
	sort.Strings(names)

	kce := make([]string, 0, len(names))
	eav := make(map[string]types.AttributeValue, len(names))
	for _, name := range names {
		kce = append(kce, fmt.Sprintf("%v = :%v", name, name))
		eav[":"+name] = attrValue(cond[name])
	}
	return strings.Join(kce, " and "), eav
}
