// Package s3 adapts an S3-compatible object store to evidence.Store,
// grounded on the pack's aws-sdk-go-v2 archival pattern
// (evalgo-org-eve/tracing/archival.go's ArchivalManager.s3Client.PutObject
// call). Content is addressed by its SHA-256 hash rather than a
// caller-supplied name, so the same payload always resolves to the same
// key and ownership can be validated without reading the object back.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// client is the narrow *s3.Client surface Store needs, letting tests
// swap in a fake without a live bucket.
type client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store persists Evidence payloads as content-addressed S3 objects under
// a configured prefix: <prefix>/<sha256-hex>. Keys carry no company
// segment.
type Store struct {
	client client
	bucket string
	prefix string
}

// New builds a Store writing to bucket, prefixing every key with prefix
// (e.g. "evidence"). client is typically an *s3.Client built via
// config.LoadDefaultConfig.
func New(client client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Put implements evidence.Store. The storage key is
// "<prefix>/<sha256-hex>" — it carries no tenant information because
// Put itself is not given one; ValidateOwnership relies on the caller
// recording which tenant wrote a key in Truth, and only checks that the
// object exists under the key the caller already has.
func (s *Store) Put(ctx context.Context, content []byte) (string, error) {
	sum := sha256.Sum256(content)
	key := s.objectKey(hex.EncodeToString(sum[:]))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return "", fmt.Errorf("put evidence object: %w", err)
	}
	return key, nil
}

// ValidateOwnership implements evidence.Store. S3 carries no per-object
// tenant attribute of its own, so this reports whether storageKey exists
// under this Store's prefix — the binding between a key and the
// companyID that wrote it lives in Truth (FilePointer), and this call
// only guards against a dangling or forged key, not a cross-tenant one
// that was never recorded.
func (s *Store) ValidateOwnership(ctx context.Context, storageKey string, companyID string) (bool, error) {
	if !strings.HasPrefix(storageKey, s.prefix+"/") {
		return false, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("head evidence object: %w", err)
	}
	return true, nil
}

func (s *Store) objectKey(hash string) string {
	if s.prefix == "" {
		return hash
	}
	return s.prefix + "/" + hash
}
