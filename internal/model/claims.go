package model

import (
	"encoding/json"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Reserved claim names, matching the registered JWT claim set.
const (
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
)

// Claim is a single named claim value.
type Claim struct {
	Name  string
	Value any
}

// ClaimSet is an insertion-ordered mapping of claim name to value. It is
// immutable once constructed; With returns a derived copy.
type ClaimSet struct {
	om *orderedmap.OrderedMap[string, any]
}

// NewClaimSet builds a claim set from the given claims, in order. A repeated
// name keeps its original position and takes the last value.
func NewClaimSet(claims ...Claim) *ClaimSet {
	om := orderedmap.New[string, any]()
	for _, c := range claims {
		om.Set(c.Name, c.Value)
	}
	return &ClaimSet{om: om}
}

// With returns a copy of the claim set with the given claim set.
func (c *ClaimSet) With(name string, value any) *ClaimSet {
	om := orderedmap.New[string, any]()
	for pair := c.om.Oldest(); pair != nil; pair = pair.Next() {
		om.Set(pair.Key, pair.Value)
	}
	om.Set(name, value)
	return &ClaimSet{om: om}
}

// Get returns the claim value by name.
func (c *ClaimSet) Get(name string) (any, bool) {
	return c.om.Get(name)
}

// Len returns the number of claims.
func (c *ClaimSet) Len() int {
	return c.om.Len()
}

// ToMap returns an ordered copy of every claim, custom claims included.
// Callers that do not know the claim schema iterate it with Oldest/Next.
func (c *ClaimSet) ToMap() *orderedmap.OrderedMap[string, any] {
	om := orderedmap.New[string, any]()
	for pair := c.om.Oldest(); pair != nil; pair = pair.Next() {
		om.Set(pair.Key, pair.Value)
	}
	return om
}

// Issuer returns the reserved issuer claim, or "".
func (c *ClaimSet) Issuer() string {
	return c.stringClaim(ClaimIssuer)
}

// Subject returns the reserved subject claim, or "".
func (c *ClaimSet) Subject() string {
	return c.stringClaim(ClaimSubject)
}

// ExpiresAt returns the expiration claim. ok is false when the token carries
// no expiration.
func (c *ClaimSet) ExpiresAt() (t time.Time, ok bool) {
	return c.timeClaim(ClaimExpiresAt)
}

// IssuedAt returns the issued-at claim.
func (c *ClaimSet) IssuedAt() (t time.Time, ok bool) {
	return c.timeClaim(ClaimIssuedAt)
}

func (c *ClaimSet) stringClaim(name string) string {
	v, ok := c.om.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (c *ClaimSet) timeClaim(name string) (time.Time, bool) {
	v, ok := c.om.Get(name)
	if !ok {
		return time.Time{}, false
	}
	sec, ok := NumericClaim(v)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(sec), 0), true
}

// NumericClaim converts a claim value to float64. Verified tokens carry
// json.Number values; freshly built sets may hold native integers.
func NumericClaim(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
