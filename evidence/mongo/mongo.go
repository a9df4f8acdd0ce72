// Package mongo adapts a GridFS-style MongoDB bucket to evidence.Store,
// grounded on the teacher's Options/New client wiring (features/run/mongo,
// features/runlog/mongo/clients/mongo/client.go) — a narrow interface over
// the real driver so tests never need a live deployment.
package mongo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
)

// bucket is the narrow GridFS surface Store needs.
type bucket interface {
	UploadFromStream(ctx context.Context, filename string, source io.Reader) (any, error)
	OpenDownloadStreamByName(ctx context.Context, filename string) (*mongodriver.GridFSDownloadStream, error)
}

// Options configures the Mongo-backed Evidence store. Evidence always
// lives in the database's default GridFS bucket ("fs"); callers wanting
// isolation from other GridFS consumers should point Database at a
// dedicated database rather than naming a second bucket.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

const defaultTimeout = 10 * time.Second

// Store persists Evidence payloads as GridFS files named by their
// SHA-256 content hash, mirroring the S3 adapter's content-addressing
// so callers can treat either backend identically.
type Store struct {
	bucket  bucket
	timeout time.Duration
}

// New builds a Store from opts, opening the default GridFS bucket on
// opts.Database.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	b := opts.Client.Database(opts.Database).GridFSBucket()
	return &Store{bucket: gridFSBucket{b}, timeout: timeout}, nil
}

// gridFSBucket adapts *mongodriver.GridFSBucket to the bucket interface.
type gridFSBucket struct{ b *mongodriver.GridFSBucket }

func (g gridFSBucket) UploadFromStream(ctx context.Context, filename string, source io.Reader) (any, error) {
	return g.b.UploadFromStream(ctx, filename, source)
}

func (g gridFSBucket) OpenDownloadStreamByName(ctx context.Context, filename string) (*mongodriver.GridFSDownloadStream, error) {
	return g.b.OpenDownloadStreamByName(ctx, filename)
}

// Put implements evidence.Store. filename is the hex SHA-256 of
// content; re-uploading identical content produces a duplicate GridFS
// file under the same name, which GridFS permits and downloads resolve
// to the most recent revision — acceptable here since content-addressed
// bytes are immutable by construction.
func (s *Store) Put(ctx context.Context, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sum := sha256.Sum256(content)
	key := hex.EncodeToString(sum[:])
	if _, err := s.bucket.UploadFromStream(ctx, key, bytes.NewReader(content)); err != nil {
		return "", fmt.Errorf("upload evidence object: %w", err)
	}
	return key, nil
}

// ValidateOwnership implements evidence.Store. GridFS carries no
// per-file tenant attribute, so this only confirms storageKey resolves
// to an uploaded file — the companyID/key binding lives in Truth
// (FilePointer), same caveat as the S3 adapter.
func (s *Store) ValidateOwnership(ctx context.Context, storageKey string, _ string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stream, err := s.bucket.OpenDownloadStreamByName(ctx, storageKey)
	if err != nil {
		if errors.Is(err, mongodriver.ErrFileNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("open evidence object: %w", err)
	}
	if stream != nil {
		_ = stream.Close()
	}
	return true, nil
}
