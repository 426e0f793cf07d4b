// Package objectstore provides a JetStream object store for generated audio.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nats-io/nats.go/jetstream"
)

// MetadataContentType is the object metadata key holding the media type.
const MetadataContentType = "content-type"

var contentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  jetstream.ObjectStore
}

// New creates the bucket, or binds to it if it already exists.
func New(ctx context.Context, js jetstream.JetStream, bucketName string) (*NatsObjectStore, error) {
	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Generated music for the %s bucket.", bucketName),
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = js.ObjectStore(ctx, bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Open binds to an existing bucket without creating it.
func Open(ctx context.Context, js jetstream.JetStream, bucketName string) (*NatsObjectStore, error) {
	store, err := js.ObjectStore(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to open object store bucket '%s': %w", bucketName, err)
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves an object from the bucket.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := n.store.GetBytes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return data, nil
}

// Upload saves an object to the bucket, replacing any previous version.
// Known audio extensions are tagged with their media type.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	meta := jetstream.ObjectMeta{Name: key}

	if contentType, ok := contentTypes[filepath.Ext(key)]; ok {
		meta.Metadata = map[string]string{MetadataContentType: contentType}
	}

	_, err := n.store.Put(ctx, meta, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// ContentType returns the media type recorded for key, or "" when none was recorded.
func (n *NatsObjectStore) ContentType(ctx context.Context, key string) (string, error) {
	info, err := n.store.GetInfo(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to get info for object '%s' in bucket '%s': %w", key, n.bucket, err)
	}

	return info.Metadata[MetadataContentType], nil
}

// Delete removes an object from the bucket.
func (n *NatsObjectStore) Delete(ctx context.Context, key string) error {
	err := n.store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
