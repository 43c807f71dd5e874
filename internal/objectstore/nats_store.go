// Package objectstore provides a NATS-based implementation of the ObjectStore interface.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrObjectNotFound is returned by Download for a missing key.
var ErrObjectNotFound = jetstream.ErrObjectNotFound

// NatsObjectStore implements the core.ObjectStore interface on a JetStream
// object store bucket. The worker reads request text from one bucket and
// writes synthesized WAV files to another.
type NatsObjectStore struct {
	bucket string
	store  jetstream.ObjectStore
	log    *logger.Logger
}

// New creates the bucket, or binds to it when it already exists.
func New(
	ctx context.Context,
	js jetstream.JetStream,
	bucketName string,
	log *logger.Logger,
) (*NatsObjectStore, error) {
	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
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
		log:    log,
	}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := n.store.GetBytes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.store.PutBytes(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	n.log.Info("Stored %s in %s (%s)", key, n.bucket, humanize.Bytes(uint64(len(data))))

	return nil
}

// Delete removes an object.
func (n *NatsObjectStore) Delete(ctx context.Context, key string) error {
	err := n.store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
