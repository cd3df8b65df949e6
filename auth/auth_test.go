package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/notegate/notegate/config"
)

const testIssuer = "https://issuer.test/"
const testAudience = "notegate"
const testKid = "test-key-1"

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// jwksServer publishes the public half of key under testKid.
func jwksServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		set := jwks{Keys: []jwk{{
			Kty: "RSA",
			Use: "sig",
			Kid: testKid,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func testVerifier(url string) *Verifier {
	return NewVerifier(config.AuthConfig{
		Issuer:   testIssuer,
		Audience: testAudience,
		JwksURL:  url,
		CacheTTL: config.Duration(time.Minute),
	})
}

func TestExtractValidToken(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, key)
	defer srv.Close()
	v := testVerifier(srv.URL)

	identity, err := v.Extract(context.Background(), signToken(t, key, validClaims()))
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.SubjectID)
	require.Equal(t, testIssuer, identity.Claims["iss"])
}

func TestExtractExpiredToken(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, key)
	defer srv.Close()
	v := testVerifier(srv.URL)

	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err := v.Extract(context.Background(), signToken(t, key, claims))
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, Expired, authErr.Kind)
}

func TestExtractWrongSigningKey(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, key)
	defer srv.Close()
	v := testVerifier(srv.URL)

	// Signed by a key the provider never published.
	other := newSigningKey(t)
	_, err := v.Extract(context.Background(), signToken(t, other, validClaims()))
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, InvalidSignature, authErr.Kind)
}

func TestExtractUnknownKeyID(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, key)
	defer srv.Close()
	v := testVerifier(srv.URL)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	token.Header["kid"] = "rotated-away"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = v.Extract(context.Background(), signed)
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, InvalidSignature, authErr.Kind)
}

func TestExtractMalformedTokens(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, key)
	defer srv.Close()
	v := testVerifier(srv.URL)

	missingSub := validClaims()
	delete(missingSub, "sub")
	missingExp := validClaims()
	delete(missingExp, "exp")
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://someone-else.test/"
	wrongAudience := validClaims()
	wrongAudience["aud"] = "other-service"

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"missing sub", signToken(t, key, missingSub)},
		{"missing exp", signToken(t, key, missingExp)},
		{"wrong issuer", signToken(t, key, wrongIssuer)},
		{"wrong audience", signToken(t, key, wrongAudience)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Extract(context.Background(), tt.token)
			require.Error(t, err)
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			require.Equal(t, Malformed, authErr.Kind)
		})
	}
}

func TestExtractRejectsUnsignedAlgorithm(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, key)
	defer srv.Close()
	v := testVerifier(srv.URL)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims())
	token.Header["kid"] = testKid
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Extract(context.Background(), signed)
	require.Error(t, err)
}

func TestKeyCacheServesStaleKeysWhenProviderDown(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, key)
	v := NewVerifier(config.AuthConfig{
		Issuer:   testIssuer,
		Audience: testAudience,
		JwksURL:  srv.URL,
		CacheTTL: config.Duration(time.Millisecond),
	})

	// Prime the cache, then take the provider away.
	_, err := v.Extract(context.Background(), signToken(t, key, validClaims()))
	require.NoError(t, err)
	srv.Close()
	time.Sleep(5 * time.Millisecond)

	_, err = v.Extract(context.Background(), signToken(t, key, validClaims()))
	require.NoError(t, err)
}
