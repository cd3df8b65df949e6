package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// jwk is one published verification key. Only RSA signing keys are used.
type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// keyCache holds the provider's keys, refreshed when stale or when an
// unknown key id shows up (key rotation).
type keyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func newKeyCache(url string, ttl time.Duration) *keyCache {
	return &keyCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// keyFor returns the verification key for a key id.
func (c *keyCache) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale := time.Since(c.fetched) >= c.ttl
	if key, ok := c.keys[kid]; ok && !stale {
		return key, nil
	}
	if stale || c.keys[kid] == nil {
		if err := c.refreshLocked(ctx); err != nil {
			// Keep serving cached keys while the provider is unreachable.
			if key, ok := c.keys[kid]; ok {
				return key, nil
			}
			return nil, err
		}
	}
	key, ok := c.keys[kid]
	if !ok {
		return nil, &AuthError{Kind: InvalidSignature, Message: fmt.Sprintf("no verification key %q", kid)}
	}
	return key, nil
}

func (c *keyCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := k.publicKey()
		if err != nil {
			return fmt.Errorf("decode jwks key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = key
	}
	c.keys = keys
	c.fetched = time.Now()
	return nil
}

// publicKey rebuilds the RSA public key from its modulus and exponent.
func (k jwk) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
