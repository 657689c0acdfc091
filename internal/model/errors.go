package model

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable machine-readable classification of a core failure.
// Boundary layers map kinds to transport status codes; the core never does.
type ErrorKind string

const (
	KindMalformedToken   ErrorKind = "malformed_token"
	KindInvalidSignature ErrorKind = "invalid_signature"
	KindExpiredToken     ErrorKind = "expired_token"
	KindKeyGeneration    ErrorKind = "key_generation"
	KindSigning          ErrorKind = "signing"
	KindNotFound         ErrorKind = "not_found"
	KindRevokedToken     ErrorKind = "revoked_token"
	KindStoreUnavailable ErrorKind = "store_unavailable"
)

// Error is the single error type of the auth core. It carries the kind and,
// when known, the identifier of the offending record or key. Raw secrets and
// private key material never appear here.
type Error struct {
	Kind ErrorKind
	ID   string

	cause error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.ID != "" {
		msg = fmt.Sprintf("%s: id=%s", msg, e.ID)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind, so callers can use errors.Is
// against the exported sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrTokenMalformed   = &Error{Kind: KindMalformedToken}
	ErrSignatureInvalid = &Error{Kind: KindInvalidSignature}
	ErrTokenExpired     = &Error{Kind: KindExpiredToken}
	ErrKeyGeneration    = &Error{Kind: KindKeyGeneration}
	ErrSigning          = &Error{Kind: KindSigning}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrTokenRevoked     = &Error{Kind: KindRevokedToken}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
)

// MalformedToken reports a token whose structure could never have been valid.
func MalformedToken(cause error) *Error {
	return &Error{Kind: KindMalformedToken, cause: cause}
}

// SignatureInvalid reports a token whose signature does not verify against
// the key identified by keyID.
func SignatureInvalid(keyID string, cause error) *Error {
	return &Error{Kind: KindInvalidSignature, ID: keyID, cause: cause}
}

// TokenExpired reports a token or record past its expiration.
func TokenExpired(id string) *Error {
	return &Error{Kind: KindExpiredToken, ID: id}
}

// KeyGenerationFailed reports an unsupported or failed key generation.
func KeyGenerationFailed(cause error) *Error {
	return &Error{Kind: KindKeyGeneration, cause: cause}
}

// SigningFailed reports a key invalid or incompatible with the signing
// algorithm.
func SigningFailed(cause error) *Error {
	return &Error{Kind: KindSigning, cause: cause}
}

// NotFound reports a lookup miss for the given identifier.
func NotFound(id string) *Error {
	return &Error{Kind: KindNotFound, ID: id}
}

// TokenRevoked reports a refresh token record whose revoked flag is set.
func TokenRevoked(id string) *Error {
	return &Error{Kind: KindRevokedToken, ID: id}
}

// StoreUnavailable reports a transient persistence failure. This is the only
// kind eligible for local retry.
func StoreUnavailable(cause error) *Error {
	return &Error{Kind: KindStoreUnavailable, cause: cause}
}
