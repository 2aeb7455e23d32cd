// Package ioblob is the local-filesystem Blobs backend behind the
// Conversion Store (C2) and the Job Executor's legacy raw-image path.
//
// The original service stores media on local disk in development and on
// Google Cloud Storage in production (MEDIA_ROOT / django-storages
// GoogleCloudStorage in original_source/server/biologidex/settings). No
// pack example wires a GCS or S3 SDK for object storage specifically (the
// cloud SDKs present in the pack are for LLM backends, not blob storage),
// so this package gives the catalog a real, working backend grounded in
// the original's own local-disk mode; swapping in a cloud backend later
// only requires a new Blobs implementation, not a change to any caller.
package ioblob

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/fieldnote/dex/pkg/errcode"
)

// Store is a Blobs implementation rooted at a directory on local disk.
type Store struct {
	root string
}

// New constructs a Store rooted at root, creating it if necessary.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errcode.New(errcode.CreateDirError, "failed to create blob storage directory", err)
	}
	return &Store{root: root}, nil
}

// Put writes data under key, or under a new, randomly generated ref when
// key is empty, and returns the ref used.
func (s *Store) Put(_ context.Context, key string, data []byte) (string, error) {
	ref := key
	if ref == "" {
		ref = uuid.NewString()
	}
	path := filepath.Join(s.root, ref)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errcode.New(errcode.WriteFileError, "failed to write blob", err)
	}
	return ref, nil
}

// Get reads the blob stored under ref.
func (s *Store) Get(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ref))
	if err != nil {
		return nil, errcode.New(errcode.ReadFileError, "failed to read blob", err)
	}
	return data, nil
}
