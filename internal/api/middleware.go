/**
 * @description
 * Authentication and authorization middleware for the enrollment-service.
 *
 * @notes
 * - Learner routes validate Clerk JWTs against the JWKS endpoint. Keys are cached by
 *   kid and the set is refetched when a token names a kid we have not seen.
 * - Internal routes require the shared X-Internal-API-Key header. An unset key
 *   rejects every internal call.
 */

package api

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const learnerIDContextKey = contextKey("learnerID")

const jwksMinRefreshInterval = 30 * time.Second

// jwksCache holds the RSA verification keys published at a JWKS endpoint.
type jwksCache struct {
	url    string
	client *http.Client

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	lastFetched time.Time
}

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) publicKey(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	if !c.lastFetched.IsZero() && time.Since(c.lastFetched) < jwksMinRefreshInterval {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	keys, err := fetchJWKS(c.client, c.url)
	if err != nil {
		return nil, err
	}
	c.keys = keys
	c.lastFetched = time.Now()

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

// ClerkAuthMiddleware validates Clerk JWTs and injects the learner id into context.
func ClerkAuthMiddleware(jwksURL string) func(http.Handler) http.Handler {
	cache := newJWKSCache(jwksURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Authorization header required", "")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeJSONError(w, http.StatusUnauthorized, "Invalid Authorization header format", "")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}

				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}

				publicKey, err := cache.publicKey(kid)
				if err != nil {
					return nil, fmt.Errorf("failed to get public key: %w", err)
				}
				return publicKey, nil
			})
			if err != nil || !token.Valid {
				log.Printf("level=warn component=auth msg=\"token rejected\" err=%v", err)
				writeJSONError(w, http.StatusUnauthorized, "Invalid token", "")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Invalid token claims", "")
				return
			}

			if expectedAud := os.Getenv("CLERK_AUDIENCE"); expectedAud != "" {
				if aud, err := claims.GetAudience(); err != nil || !slices.Contains(aud, expectedAud) {
					writeJSONError(w, http.StatusUnauthorized, "Invalid audience", "")
					return
				}
			}
			if expectedIss := os.Getenv("CLERK_ISSUER"); expectedIss != "" {
				if iss, ok := claims["iss"].(string); !ok || iss != expectedIss {
					writeJSONError(w, http.StatusUnauthorized, "Invalid issuer", "")
					return
				}
			}

			learnerID, ok := claims["sub"].(string)
			if !ok || strings.TrimSpace(learnerID) == "" {
				writeJSONError(w, http.StatusUnauthorized, "User ID not found in token", "")
				return
			}

			ctx := context.WithValue(r.Context(), learnerIDContextKey, learnerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	requiredKey = strings.TrimSpace(requiredKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				log.Printf("level=error component=auth msg=\"internal api key not configured; rejecting\" path=%s", r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetLearnerID retrieves the authenticated learner id from the request context.
func GetLearnerID(ctx context.Context) (string, bool) {
	learnerID, ok := ctx.Value(learnerIDContextKey).(string)
	return learnerID, ok
}

func fetchJWKS(client *http.Client, jwksURL string) (map[string]*rsa.PublicKey, error) {
	resp, err := client.Get(jwksURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "" && key.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			log.Printf("level=warn component=auth msg=\"skipping malformed jwk\" kid=%s err=%v", key.Kid, err)
			continue
		}
		keys[key.Kid] = pub
	}
	return keys, nil
}

func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}
