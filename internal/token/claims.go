package token

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arenalab/authcore/internal/model"
)

// wireClaims adapts a model.ClaimSet to the jwt.Claims interface. Marshaling
// preserves insertion order; unmarshaling rebuilds the set in document order
// with json.Number values, so numeric claims keep their fidelity.
type wireClaims struct {
	cs *model.ClaimSet
}

func (w *wireClaims) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.cs.ToMap())
}

func (w *wireClaims) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("claims: expected JSON object, got %v", tok)
	}

	var claims []model.Claim
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("claims: expected string key, got %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		claims = append(claims, model.Claim{Name: name, Value: value})
	}

	w.cs = model.NewClaimSet(claims...)
	return nil
}

func (w *wireClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return w.numericDate(model.ClaimExpiresAt)
}

func (w *wireClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return w.numericDate(model.ClaimIssuedAt)
}

func (w *wireClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return w.numericDate("nbf")
}

func (w *wireClaims) GetIssuer() (string, error) {
	return w.cs.Issuer(), nil
}

func (w *wireClaims) GetSubject() (string, error) {
	return w.cs.Subject(), nil
}

func (w *wireClaims) GetAudience() (jwt.ClaimStrings, error) {
	v, ok := w.cs.Get("aud")
	if !ok {
		return nil, nil
	}
	switch aud := v.(type) {
	case string:
		return jwt.ClaimStrings{aud}, nil
	case []any:
		out := make(jwt.ClaimStrings, 0, len(aud))
		for _, item := range aud {
			s, ok := item.(string)
			if !ok {
				return nil, jwt.ErrInvalidType
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, jwt.ErrInvalidType
	}
}

func (w *wireClaims) numericDate(name string) (*jwt.NumericDate, error) {
	v, ok := w.cs.Get(name)
	if !ok {
		return nil, nil
	}
	sec, ok := model.NumericClaim(v)
	if !ok {
		return nil, jwt.ErrInvalidType
	}
	return jwt.NewNumericDate(time.Unix(int64(sec), 0)), nil
}
