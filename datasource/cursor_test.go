package datasource

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	codec := NewCursorCodec("test-secret")
	lastKey := map[string]types.AttributeValue{
		"NoteId": &types.AttributeValueMemberS{Value: "n-7"},
		"UserId": &types.AttributeValueMemberS{Value: "user-1"},
		"seq":    &types.AttributeValueMemberN{Value: "42"},
	}

	token, err := codec.Encode(lastKey, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := codec.Decode(token, "user-1")
	require.NoError(t, err)
	require.Equal(t, lastKey, decoded)
}

func TestCursorEmptyKey(t *testing.T) {
	codec := NewCursorCodec("test-secret")

	token, err := codec.Encode(nil, "user-1")
	require.NoError(t, err)
	require.Empty(t, token)

	decoded, err := codec.Decode("", "user-1")
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestCursorTamperDetection(t *testing.T) {
	codec := NewCursorCodec("test-secret")
	token, err := codec.Encode(map[string]types.AttributeValue{
		"NoteId": &types.AttributeValueMemberS{Value: "n-7"},
	}, "user-1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"flipped payload byte", "A" + token[1:]},
		{"truncated signature", token[:len(token)-2]},
		{"no separator", "justonepart"},
		{"not base64", "!!!.???"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.token, "user-1")
			require.Error(t, err)
			var backendErr *BackendError
			require.ErrorAs(t, err, &backendErr)
			require.Equal(t, Malformed, backendErr.Kind)
		})
	}
}

func TestCursorBoundToOwner(t *testing.T) {
	codec := NewCursorCodec("test-secret")
	token, err := codec.Encode(map[string]types.AttributeValue{
		"NoteId": &types.AttributeValueMemberS{Value: "n-7"},
		"UserId": &types.AttributeValueMemberS{Value: "user-1"},
	}, "user-1")
	require.NoError(t, err)

	// The issuing caller can resume; anyone else cannot.
	_, err = codec.Decode(token, "user-1")
	require.NoError(t, err)

	_, err = codec.Decode(token, "user-2")
	require.Error(t, err)
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	require.Equal(t, Malformed, backendErr.Kind)
}

func TestCursorKeyedByProcessWhenUnconfigured(t *testing.T) {
	first := NewCursorCodec("")
	second := NewCursorCodec("")
	token, err := first.Encode(map[string]types.AttributeValue{
		"NoteId": &types.AttributeValueMemberS{Value: "n-7"},
	}, "user-1")
	require.NoError(t, err)

	// A different process key cannot verify the token.
	_, err = second.Decode(token, "user-1")
	require.Error(t, err)
}
