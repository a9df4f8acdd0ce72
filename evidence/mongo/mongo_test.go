package mongo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
)

type fakeBucket struct {
	files map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{files: map[string][]byte{}}
}

func (f *fakeBucket) UploadFromStream(_ context.Context, filename string, source io.Reader) (any, error) {
	content, err := io.ReadAll(source)
	if err != nil {
		return nil, err
	}
	f.files[filename] = content
	return nil, nil
}

func (f *fakeBucket) OpenDownloadStreamByName(_ context.Context, filename string) (*mongodriver.GridFSDownloadStream, error) {
	if _, ok := f.files[filename]; !ok {
		return nil, mongodriver.ErrFileNotFound
	}
	return nil, nil
}

func TestStore_PutIsContentAddressed(t *testing.T) {
	fb := newFakeBucket()
	store := &Store{bucket: fb, timeout: defaultTimeout}

	content := []byte("hello evidence")
	key, err := store.Put(context.Background(), content)
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), key)
	assert.Equal(t, content, fb.files[key])
}

func TestStore_ValidateOwnershipRejectsUnknownKey(t *testing.T) {
	fb := newFakeBucket()
	store := &Store{bucket: fb, timeout: defaultTimeout}

	ok, err := store.ValidateOwnership(context.Background(), "missing", "company-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ValidateOwnershipAcceptsWrittenKey(t *testing.T) {
	fb := newFakeBucket()
	store := &Store{bucket: fb, timeout: defaultTimeout}

	key, err := store.Put(context.Background(), []byte("payload"))
	require.NoError(t, err)

	ok, err := store.ValidateOwnership(context.Background(), key, "company-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
