// Package token encodes claim sets into compact RS256-signed tokens and
// verifies them back. The codec is pure computation: no I/O, no shared
// mutable state, safe for concurrent use.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arenalab/authcore/internal/model"
)

const headerKeyID = "kid"

var validMethods = []string{jwt.SigningMethodRS256.Alg()}

// Codec creates and verifies signed access tokens.
type Codec struct{}

// New creates a Codec.
func New() *Codec {
	return &Codec{}
}

// Create signs the claim set with the private key. An issued-at claim is
// stamped with the current time; ttl > 0 adds an expiration claim, ttl <= 0
// omits it so the token stays valid until key rotation. keyID, when
// non-empty, travels in the token header.
func (c *Codec) Create(claims *model.ClaimSet, key *rsa.PrivateKey, ttl time.Duration, keyID string) (string, error) {
	if key == nil {
		return "", model.SigningFailed(errors.New("nil signing key"))
	}
	if claims == nil {
		claims = model.NewClaimSet()
	}

	now := time.Now()
	stamped := claims.With(model.ClaimIssuedAt, now.Unix())
	if ttl > 0 {
		stamped = stamped.With(model.ClaimExpiresAt, now.Add(ttl).Unix())
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &wireClaims{cs: stamped})
	if keyID != "" {
		tok.Header[headerKeyID] = keyID
	}

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", model.SigningFailed(err)
	}
	return signed, nil
}

// Verify parses the token, validates its signature against the key and its
// expiration against the current time, and returns the claim set. Checks are
// ordered: structure, then signature, then expiry, so callers can tell a
// never-valid token from one that merely aged out.
func (c *Codec) Verify(tokenString string, key *rsa.PublicKey) (*model.ClaimSet, error) {
	if key == nil {
		return nil, model.SignatureInvalid("", errors.New("nil verification key"))
	}
	return c.parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
}

// VerifyAny verifies against the key identified by the token's kid header,
// falling back to the sole configured key when the header is absent.
func (c *Codec) VerifyAny(tokenString string, publicKeys map[string]*rsa.PublicKey) (*model.ClaimSet, error) {
	return c.parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header[headerKeyID].(string)
		if kid == "" {
			if len(publicKeys) == 1 {
				for _, key := range publicKeys {
					return key, nil
				}
			}
			return nil, errors.New("token has no kid and multiple keys are configured")
		}
		key, ok := publicKeys[kid]
		if !ok {
			return nil, fmt.Errorf("no verification key for kid %q", kid)
		}
		return key, nil
	})
}

func (c *Codec) parse(tokenString string, keyFunc jwt.Keyfunc) (*model.ClaimSet, error) {
	claims := &wireClaims{cs: model.NewClaimSet()}
	tok, err := jwt.ParseWithClaims(tokenString, claims, keyFunc, jwt.WithValidMethods(validMethods))
	if err != nil {
		return nil, mapParseError(err, tok)
	}
	if !tok.Valid {
		return nil, model.SignatureInvalid(tokenKeyID(tok), errors.New("token is invalid"))
	}
	return claims.cs, nil
}

// mapParseError collapses the library's (possibly joined) errors into the
// core error kinds with fixed precedence: malformed before invalid signature
// before expired.
func mapParseError(err error, tok *jwt.Token) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return model.MalformedToken(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return model.SignatureInvalid(tokenKeyID(tok), err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return model.TokenExpired(tokenKeyID(tok))
	default:
		return model.MalformedToken(err)
	}
}

func tokenKeyID(tok *jwt.Token) string {
	if tok == nil {
		return ""
	}
	kid, _ := tok.Header[headerKeyID].(string)
	return kid
}
