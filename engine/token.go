package engine

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload carried by the cloud relay (C8) and the
// loopback HTTP ingress (C9). Besides the registered claims, print
// tokens carry the restaurant this daemon serves and a scope list.
type Claims struct {
	jwt.RegisteredClaims
	RestaurantID string `json:"restaurant_id"`
	Scope        string `json:"scope"`
}

// These cover every way Verify can reject a token; callers never retry
// after one of them.
var (
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenBadSignature    = errors.New("bad signature")
	ErrTokenWrongRestaurant = errors.New("token issued for a different restaurant")
	ErrTokenMissingScope    = errors.New("token missing required scope")
)

// Authenticator validates JWTs from the realtime channel and HTTP
// ingress. It supports HS256 with a shared secret (the common case for
// a cloud-relay-issued token) and Ed25519 (a signing key the relay may
// rotate independently of the shared secret), plus a grace window that
// accepts the previous HMAC secret for a configurable duration after
// rotation so key rollover never causes a thundering herd of rejected
// print jobs.
type Authenticator struct {
	restaurantID string

	mu          sync.RWMutex
	secret      []byte
	prevSecret  []byte
	prevExpires time.Time
	ed25519Pub  ed25519.PublicKey // optional, nil if not configured
}

func NewAuthenticator(restaurantID string, secret []byte, ed25519Pub ed25519.PublicKey) *Authenticator {
	return &Authenticator{restaurantID: restaurantID, secret: secret, ed25519Pub: ed25519Pub}
}

// RotateSecret installs a new HMAC secret, keeping the previous one
// valid for grace (spec default: 1h) so in-flight tokens aren't
// invalidated mid-rotation.
func (a *Authenticator) RotateSecret(newSecret []byte, grace time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prevSecret = a.secret
	a.prevExpires = time.Now().Add(grace)
	a.secret = newSecret
}

// Verify checks signature, expiry, restaurant_id, and scope. tok must
// carry "print" somewhere in its space-delimited scope claim.
func (a *Authenticator) Verify(tok string) (*Claims, error) {
	claims, err := a.parse(tok, a.currentSecret())
	if err != nil && errors.Is(err, ErrTokenBadSignature) {
		// Retry with the previous secret during the rotation grace window.
		if prev, ok := a.graceSecret(); ok {
			claims, err = a.parse(tok, prev)
		}
	}
	if err != nil {
		return nil, err
	}
	if claims.RestaurantID != a.restaurantID {
		return nil, ErrTokenWrongRestaurant
	}
	if !hasScope(claims.Scope, "print") {
		return nil, ErrTokenMissingScope
	}
	return claims, nil
}

func (a *Authenticator) parse(tok string, hmacSecret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(token *jwt.Token) (any, error) {
		switch token.Method.Alg() {
		case "EdDSA":
			if a.ed25519Pub == nil {
				return nil, errors.New("no ed25519 key configured")
			}
			return a.ed25519Pub, nil
		case "HS256":
			return hmacSecret, nil
		default:
			return nil, fmt.Errorf("unsupported signing method: %s", token.Method.Alg())
		}
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrTokenBadSignature, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenBadSignature
	}
	return claims, nil
}

func (a *Authenticator) currentSecret() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.secret
}

func (a *Authenticator) graceSecret() ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.prevSecret == nil || time.Now().After(a.prevExpires) {
		return nil, false
	}
	return a.prevSecret, true
}

func hasScope(scope, want string) bool {
	for _, s := range splitScope(scope) {
		if s == want {
			return true
		}
	}
	return false
}

func splitScope(scope string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}
