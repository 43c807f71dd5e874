// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer starts an in-process JetStream server and returns a
// JetStream handle connected to it.
func startTestServer(t *testing.T) (*server.Server, jetstream.JetStream) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	js, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	return natsServer, js
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "objectstore-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	_, js := startTestServer(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "AUDIO_FILES", newLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "AUDIO_FILES", store.Bucket())

	uploadData := []byte("RIFF....WAVEfmt pretend audio")
	require.NoError(t, store.Upload(ctx, "clip.wav", uploadData))

	downloadData, err := store.Download(ctx, "clip.wav")
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)

	require.NoError(t, store.Upload(ctx, "clip.wav", []byte("replaced")))

	downloadData, err = store.Download(ctx, "clip.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), downloadData)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	_, js := startTestServer(t)
	ctx := context.Background()
	log := newLogger(t)

	first, err := objectstore.New(ctx, js, "TEXT_FILES", log)
	require.NoError(t, err)
	require.NoError(t, first.Upload(ctx, "page-1.txt", []byte("hello")))

	second, err := objectstore.New(ctx, js, "TEXT_FILES", log)
	require.NoError(t, err)

	data, err := second.Download(ctx, "page-1.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestNatsObjectStore_MissingAndDelete(t *testing.T) {
	t.Parallel()

	_, js := startTestServer(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "SCRATCH", newLogger(t))
	require.NoError(t, err)

	_, err = store.Download(ctx, "nope")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)

	require.NoError(t, store.Upload(ctx, "gone.txt", []byte("bye")))
	require.NoError(t, store.Delete(ctx, "gone.txt"))

	_, err = store.Download(ctx, "gone.txt")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}
