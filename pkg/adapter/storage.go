package adapter

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage archives snapshots (index backups, memory bank copies) off the
// local filesystem.
type Storage interface {
	// Put returns a writer for the object stored under key
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get loads an archived object
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// storageClient implements Storage using Cloud Storage
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
	obj := s.client.Bucket(s.bucketName).Object(key)
	return obj.NewWriter(ctx), nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}

	return reader, nil
}

// ArchiveFile copies a local file into storage under the same base key
func ArchiveFile(ctx context.Context, st Storage, key, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return goerr.Wrap(err, "failed to open file for archive", goerr.V("path", path))
	}
	defer src.Close()

	dst, err := st.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open archive writer", goerr.V("key", key))
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return goerr.Wrap(err, "failed to copy file to archive", goerr.V("key", key))
	}

	if err := dst.Close(); err != nil {
		return goerr.Wrap(err, "failed to finalize archive object", goerr.V("key", key))
	}

	return nil
}
