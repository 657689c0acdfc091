// Package minio persists the signing key pair as PEM objects in an object
// storage bucket. It is the secret-store collaborator of the token codec:
// the process loads the pair at boot and generates a fresh one when the
// bucket holds none.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/arenalab/authcore/internal/keys"
	"github.com/arenalab/authcore/internal/model"
)

const (
	privateKeyObject = "signing-key.pem"
	publicKeyObject  = "signing-key.pub.pem"
)

// Internal adapter interface to enable mocking without a real MinIO server.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Wrapper to adapt *minio.Client to minioAPI.
type minioClientWrapper struct{ c *minio.Client }

func (w minioClientWrapper) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return w.c.BucketExists(ctx, bucketName)
}
func (w minioClientWrapper) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return w.c.MakeBucket(ctx, bucketName, opts)
}
func (w minioClientWrapper) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return w.c.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}
func (w minioClientWrapper) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := w.c.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}
func (w minioClientWrapper) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return w.c.StatObject(ctx, bucketName, objectName, opts)
}

// KeyStore loads and saves the signing key pair.
type KeyStore struct {
	api    minioAPI
	bucket string
}

// NewKeyStore creates a key store using a real *minio.Client instance.
func NewKeyStore(ctx context.Context, client *minio.Client, bucket string) (*KeyStore, error) {
	return NewKeyStoreWithAPI(ctx, minioClientWrapper{c: client}, bucket)
}

// NewKeyStoreWithAPI allows injecting a mockable API (used in tests).
func NewKeyStoreWithAPI(ctx context.Context, api minioAPI, bucket string) (*KeyStore, error) {
	s := &KeyStore{
		api:    api,
		bucket: bucket,
	}

	if err := s.ensureBucketExists(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Load retrieves the persisted signing key pair. Returns a not_found error
// when no key has been saved yet.
func (s *KeyStore) Load(ctx context.Context) (*keys.KeyPair, error) {
	if _, err := s.api.StatObject(ctx, s.bucket, privateKeyObject, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, model.NotFound(privateKeyObject)
		}
		return nil, fmt.Errorf("failed to stat signing key object: %w", err)
	}

	obj, err := s.api.GetObject(ctx, s.bucket, privateKeyObject, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get signing key object: %w", err)
	}
	defer obj.Close()

	pemData, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key object: %w", err)
	}

	kp, err := keys.ParsePrivatePEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored signing key: %w", err)
	}
	return kp, nil
}

// Save persists the key pair: the private PEM for the signer, the public PEM
// as a separately fetchable object for verifiers.
func (s *KeyStore) Save(ctx context.Context, kp *keys.KeyPair) error {
	privatePEM, err := kp.PrivatePEM()
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	publicPEM, err := kp.PublicPEM()
	if err != nil {
		return fmt.Errorf("failed to encode public key: %w", err)
	}

	if err := s.putObject(ctx, privateKeyObject, privatePEM); err != nil {
		return err
	}
	return s.putObject(ctx, publicKeyObject, publicPEM)
}

func (s *KeyStore) putObject(ctx context.Context, name string, data []byte) error {
	_, err := s.api.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-pem-file",
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", name, err)
	}
	return nil
}

func (s *KeyStore) ensureBucketExists(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
