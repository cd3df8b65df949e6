package datasource

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CursorCodec turns a query continuation position into an opaque token.
// Tokens round-trip unchanged through clients; any modification breaks the
// signature and the query fails as Malformed. The signature also covers the
// issuing caller's subject, so one caller's cursor is useless to another.
// Clients cannot read or build cursors without the signing key.
type CursorCodec struct {
	key []byte
}

// NewCursorCodec builds a codec from the configured secret. With an empty
// secret a random per-process key is generated, which invalidates
// outstanding cursors across restarts.
func NewCursorCodec(secret string) *CursorCodec {
	if secret != "" {
		return &CursorCodec{key: []byte(secret)}
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("cursor codec: " + err.Error())
	}
	return &CursorCodec{key: key}
}

// cursorAttr is the serializable form of one key attribute.
type cursorAttr struct {
	Type  string `json:"t"`
	Value string `json:"v"`
}

// Encode serializes a continuation key and signs it together with the
// issuing caller's subject. An empty key yields an empty token, meaning the
// result set is exhausted.
func (c *CursorCodec) Encode(lastKey map[string]types.AttributeValue, owner string) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}
	attrs := make(map[string]cursorAttr, len(lastKey))
	for name, av := range lastKey {
		switch t := av.(type) {
		case *types.AttributeValueMemberS:
			attrs[name] = cursorAttr{Type: "S", Value: t.Value}
		case *types.AttributeValueMemberN:
			attrs[name] = cursorAttr{Type: "N", Value: t.Value}
		default:
			return "", &BackendError{Kind: Malformed, Message: "unsupported cursor key attribute"}
		}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return "", &BackendError{Kind: Malformed, Message: "encode cursor", cause: err}
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." + c.sign(payload, owner), nil
}

// Decode verifies a token against the presenting caller's subject and
// rebuilds the continuation key.
func (c *CursorCodec) Decode(token string, owner string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return nil, &BackendError{Kind: Malformed, Message: "invalid cursor"}
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, &BackendError{Kind: Malformed, Message: "invalid cursor"}
	}
	if !hmac.Equal([]byte(c.sign(payload, owner)), []byte(sigPart)) {
		return nil, &BackendError{Kind: Malformed, Message: "cursor signature mismatch"}
	}
	var attrs map[string]cursorAttr
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return nil, &BackendError{Kind: Malformed, Message: "invalid cursor", cause: err}
	}
	lastKey := make(map[string]types.AttributeValue, len(attrs))
	for name, attr := range attrs {
		switch attr.Type {
		case "S":
			lastKey[name] = &types.AttributeValueMemberS{Value: attr.Value}
		case "N":
			lastKey[name] = &types.AttributeValueMemberN{Value: attr.Value}
		default:
			return nil, &BackendError{Kind: Malformed, Message: "invalid cursor"}
		}
	}
	return lastKey, nil
}

func (c *CursorCodec) sign(payload []byte, owner string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(owner))
	mac.Write([]byte{0})
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
