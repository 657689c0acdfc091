// Package keys generates and serializes the RSA key material used to sign
// and verify access tokens. The provider does not persist keys; rotation and
// storage policy belong to the key store collaborator.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/google/uuid"

	"github.com/arenalab/authcore/internal/model"
)

// MinBits is the minimum accepted RSA modulus size.
const MinBits = 2048

const (
	privatePEMType = "PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
	keyIDHeader    = "Key-ID"
)

// KeyPair holds a private signing key, its public verification key, and the
// key ID stamped into token headers. The private key never leaves the codec's
// trust boundary.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
	KeyID   string
}

// Generate creates a new RSA key pair of the requested strength.
func Generate(bits int) (*KeyPair, error) {
	if bits < MinBits {
		return nil, model.KeyGenerationFailed(fmt.Errorf("key strength %d below minimum %d", bits, MinBits))
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, model.KeyGenerationFailed(err)
	}

	return &KeyPair{
		Private: key,
		Public:  &key.PublicKey,
		KeyID:   uuid.NewString(),
	}, nil
}

// PrivatePEM serializes the private key as PKCS#8 PEM. The key ID travels in
// a PEM header so a reloaded pair keeps signing under the same kid.
func (k *KeyPair) PrivatePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	block := &pem.Block{
		Type:    privatePEMType,
		Headers: map[string]string{keyIDHeader: k.KeyID},
		Bytes:   der,
	}
	return pem.EncodeToMemory(block), nil
}

// PublicPEM serializes the public key as PKIX PEM for distribution to
// verifiers.
func (k *KeyPair) PublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	block := &pem.Block{
		Type:    publicPEMType,
		Headers: map[string]string{keyIDHeader: k.KeyID},
		Bytes:   der,
	}
	return pem.EncodeToMemory(block), nil
}

// ParsePrivatePEM restores a key pair from PKCS#8 PEM produced by PrivatePEM.
func ParsePrivatePEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privatePEMType {
		return nil, fmt.Errorf("no %s PEM block found", privatePEMType)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", parsed)
	}

	kid := block.Headers[keyIDHeader]
	if kid == "" {
		kid = uuid.NewString()
	}

	return &KeyPair{
		Private: key,
		Public:  &key.PublicKey,
		KeyID:   kid,
	}, nil
}

// ParsePublicPEM restores a verification key from PKIX PEM. Returns the key
// and the key ID recorded in the PEM header, if any.
func ParsePublicPEM(data []byte) (*rsa.PublicKey, string, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicPEMType {
		return nil, "", fmt.Errorf("no %s PEM block found", publicPEMType)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, "", fmt.Errorf("unexpected public key type %T", parsed)
	}

	return key, block.Headers[keyIDHeader], nil
}
