package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// Manifest summarises one fixture run for the tests that consume the data
type Manifest struct {
	RunID      string    `json:"run_id"`
	Operation  string    `json:"operation"`
	Tier       string    `json:"tier"`
	Database   string    `json:"database"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Tables     []Table   `json:"tables"`
}

// Table is the per-table part of a manifest
type Table struct {
	Name             string   `json:"name"`
	RowsInserted     int64    `json:"rows_inserted,omitempty"`
	DeleteCandidates []string `json:"delete_candidates,omitempty"`
	RowsDeleted      int64    `json:"rows_deleted,omitempty"`
}

// BlobName is the name the manifest is stored under
func (m Manifest) BlobName() string {
	return fmt.Sprintf("%s-%s.json", m.Operation, m.RunID)
}

// Sink stores manifests
type Sink interface {
	Write(ctx context.Context, m Manifest) error
}

// FileSink writes a manifest as indented JSON to a local file
type FileSink struct {
	Path string
}

// Write replaces the file at s.Path with m
func (s FileSink) Write(_ context.Context, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create manifest directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.Path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", s.Path, err)
	}

	log.Printf("[Manifest] Wrote %s manifest to %s", m.Operation, s.Path)
	return nil
}

// BlobSink uploads manifests to an Azure Blob Storage container
type BlobSink struct {
	client        *azblob.Client
	containerName string
}

// NewBlobSink creates a sink for the container named containerName
func NewBlobSink(connectionString, containerName string) (*BlobSink, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}
	return &BlobSink{client: client, containerName: containerName}, nil
}

// Write uploads m, creating the container on first use
func (s *BlobSink) Write(ctx context.Context, m Manifest) error {
	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to ensure Azure Blob container %s: %w", s.containerName, err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if _, err := s.client.UploadBuffer(ctx, s.containerName, m.BlobName(), data, nil); err != nil {
		return fmt.Errorf("failed to upload manifest %s: %w", m.BlobName(), err)
	}

	log.Printf("[Manifest] Uploaded %s to container %s", m.BlobName(), s.containerName)
	return nil
}

// Multi writes to every sink, stopping at the first failure
type Multi []Sink

// Write writes m to each sink in order
func (ms Multi) Write(ctx context.Context, m Manifest) error {
	for _, s := range ms {
		if err := s.Write(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
