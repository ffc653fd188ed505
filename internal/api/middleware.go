/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, rate limiting, or adding context to a request.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: bearer token validation against a JWKS endpoint.
 * - internal/app: the action rate limiter.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/disbursement-service/internal/app"
	"go.uber.org/zap"
)

// ActorIDContextKey is a custom type for the context key to avoid collisions.
type ActorIDContextKey string

const actorIDKey ActorIDContextKey = "actorID"

const jwksCacheTTL = 10 * time.Minute

// AuthMiddleware creates a middleware that validates RS256 bearer tokens against the
// keys published at jwksURL and stores the token subject as the acting user.
func AuthMiddleware(jwksURL string) func(http.Handler) http.Handler {
	keys := newJWKSCache(jwksURL, &http.Client{Timeout: 10 * time.Second})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
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
				publicKey, err := keys.key(r.Context(), kid)
				if err != nil {
					return nil, fmt.Errorf("failed to get public key: %w", err)
				}
				return publicKey, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}

			// Optional audience / issuer enforcement via env
			if expectedAud := os.Getenv("AUTH_AUDIENCE"); expectedAud != "" {
				audiences, err := claims.GetAudience()
				if err != nil || !containsString(audiences, expectedAud) {
					writeError(w, http.StatusUnauthorized, "Invalid audience")
					return
				}
			}
			if expectedIss := os.Getenv("AUTH_ISSUER"); expectedIss != "" {
				if iss, err := claims.GetIssuer(); err != nil || iss != expectedIss {
					writeError(w, http.StatusUnauthorized, "Invalid issuer")
					return
				}
			}

			subject, err := claims.GetSubject()
			if err != nil || strings.TrimSpace(subject) == "" {
				writeError(w, http.StatusUnauthorized, "Subject not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), actorIDKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActorID retrieves the authenticated actor from the request context.
func GetActorID(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorIDKey).(string)
	return actorID, ok && actorID != ""
}

// RateLimitMiddleware throttles an action per actor. Requests without an
// authenticated actor are keyed by remote address. Limiter errors fail open.
func RateLimitMiddleware(limiter app.ActionRateLimiter, scope string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := GetActorID(r.Context())
			if !ok {
				subject = r.RemoteAddr
			}
			allowed, retryAfter, err := limiter.Allow(r.Context(), scope, subject)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", zap.String("scope", scope), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please wait and try again.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type jwksCache struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(url string, client *http.Client) *jwksCache {
	return &jwksCache{url: url, client: client}
}

// key returns the public key for kid, refetching the key set when it is stale or
// does not carry kid (key rotation).
func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < jwksCacheTTL {
		return key, nil
	}
	keys, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// parseRSAPublicKey parses RSA public key from modulus and exponent
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
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
