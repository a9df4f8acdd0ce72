// Package evidence defines the consumed object-storage contract (§6):
// a content-addressed store exposing Put and ValidateOwnership. The
// engine depends only on Store; concrete adapters live in evidence/s3
// and evidence/mongo.
package evidence

import "context"

// Store is the external collaborator FILE evidence payloads are
// persisted through. The engine never reads bytes back through this
// interface — FilePointer.StorageKey is opaque to it; only the adapter
// and the object store itself understand the key format.
type Store interface {
	// Put stores content and returns its content-addressed storage key.
	Put(ctx context.Context, content []byte) (storageKey string, err error)
	// ValidateOwnership reports whether storageKey was written for
	// companyID, rejecting FILE evidence that points at another tenant's
	// object.
	ValidateOwnership(ctx context.Context, storageKey string, companyID string) (bool, error)
}
