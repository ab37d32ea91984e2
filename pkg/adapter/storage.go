package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Storage is the interface for object storage
type Storage interface {
	// Put returns a writer that stores an object under key when closed
	Put(ctx context.Context, key string) (io.WriteCloser, error)
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	writer := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	return writer, nil
}

// TranscriptArchive writes closed chat transcripts as JSON objects. It is write-only:
// transcripts are never loaded back into a session.
type TranscriptArchive struct {
	storage Storage
	prefix  string
}

// NewTranscriptArchive creates an archive writing under prefix
func NewTranscriptArchive(s Storage, prefix string) *TranscriptArchive {
	return &TranscriptArchive{storage: s, prefix: prefix}
}

// Key returns the object key of a transcript
func (a *TranscriptArchive) Key(t *model.Transcript) string {
	return path.Join(a.prefix, t.CreatedAt.UTC().Format("2006/01/02"), fmt.Sprintf("%s.json", t.SessionID))
}

func (a *TranscriptArchive) PutTranscript(ctx context.Context, t *model.Transcript) error {
	key := a.Key(t)
	w, err := a.storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open transcript object", goerr.V("key", key))
	}

	if err := json.NewEncoder(w).Encode(t); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to encode transcript", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to save transcript", goerr.V("key", key))
	}
	return nil
}
