// Package storage provides write-once stores for calculation records.
// Supports file and in-memory backends; PostgreSQL lives in adapters/postgres.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fuel-pricing/core/record"
)

// Backend is a storage backend type
type Backend string

const (
	BackendFile     Backend = "file"
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
)

// entry is the index line of a stored record
type entry struct {
	record.Metadata
	FileHash string `json:"file_hash"`
	FilePath string `json:"file_path,omitempty"`
}

// FileStore keeps one read-only JSON file per record plus an index.
// A record, once written, can never be overwritten.
type FileStore struct {
	mu       sync.RWMutex
	basePath string
	index    map[record.ID]*entry
}

// NewFileStore creates a file store, loading an existing index
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	s := &FileStore{basePath: basePath, index: make(map[record.ID]*entry)}
	if err := s.loadIndex(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load record index: %w", err)
	}
	return s, nil
}

// Put writes a record - FAILS if it already exists
func (s *FileStore) Put(ctx context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[rec.ID]; exists {
		return fmt.Errorf("record %s: %w", rec.ID, record.ErrImmutabilityViolation)
	}

	data, err := rec.Encode()
	if err != nil {
		return err
	}
	fileHash := hashOf(data)

	filePath := filepath.Join(s.basePath, fmt.Sprintf("%s_%s.json", rec.ID, fileHash[:8]))
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("record %s: %w", rec.ID, record.ErrImmutabilityViolation)
	}
	if err := os.WriteFile(filePath, data, 0444); err != nil { // Read-only!
		return fmt.Errorf("failed to write record: %w", err)
	}

	s.index[rec.ID] = &entry{Metadata: rec.Meta(int64(len(data))), FileHash: fileHash, FilePath: filePath}
	if err := s.saveIndex(); err != nil {
		// an unindexed file would block a retry of the same record
		_ = os.Chmod(filePath, 0644)
		_ = os.Remove(filePath)
		delete(s.index, rec.ID)
		return fmt.Errorf("failed to update record index: %w", err)
	}
	return nil
}

// Get reads a record and verifies both the file and the content hash
func (s *FileStore) Get(ctx context.Context, id record.ID) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, id)
	}
	data, err := os.ReadFile(e.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if hashOf(data) != e.FileHash {
		return nil, fmt.Errorf("record %s: %w", id, record.ErrHashMismatch)
	}
	return record.Decode(data)
}

// List returns index entries newest first
func (s *FileStore) List(ctx context.Context, filter record.ListFilter) ([]record.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metas := make([]record.Metadata, 0, len(s.index))
	for _, e := range s.index {
		metas = append(metas, e.Metadata)
	}
	return record.ApplyFilter(metas, filter), nil
}

// VerifyIntegrity checks all stored records
func (s *FileStore) VerifyIntegrity() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var corrupted []string
	for _, id := range s.sortedIDs() {
		e := s.index[id]
		data, err := os.ReadFile(e.FilePath)
		if err != nil {
			corrupted = append(corrupted, fmt.Sprintf("%s: file missing", id))
			continue
		}
		if hashOf(data) != e.FileHash {
			corrupted = append(corrupted, fmt.Sprintf("%s: hash mismatch", id))
			continue
		}
		if _, err := record.Decode(data); err != nil {
			corrupted = append(corrupted, fmt.Sprintf("%s: %v", id, err))
		}
	}
	return corrupted, nil
}

// Close closes the store
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) sortedIDs() []record.ID {
	metas := make([]record.Metadata, 0, len(s.index))
	for _, e := range s.index {
		metas = append(metas, e.Metadata)
	}
	record.SortMetadata(metas)
	ids := make([]record.ID, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}
	return ids
}

type indexFile struct {
	Records   map[record.ID]*entry `json:"records"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func (s *FileStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.basePath, "index.json"))
	if err != nil {
		return err
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	if idx.Records != nil {
		s.index = idx.Records
	}
	return nil
}

func (s *FileStore) saveIndex() error {
	indexPath := filepath.Join(s.basePath, "index.json")
	data, err := json.MarshalIndent(indexFile{Records: s.index, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically using temp file
	tempPath := indexPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, indexPath)
}

// MemoryStore is an in-memory storage backend (for testing). It keeps the
// encoded form so reads go through the same verification as files.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[record.ID][]byte
	metas   map[record.ID]record.Metadata
}

// NewMemoryStore creates a memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[record.ID][]byte),
		metas:   make(map[record.ID]record.Metadata),
	}
}

// Put stores a record once
func (s *MemoryStore) Put(ctx context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("record %s: %w", rec.ID, record.ErrImmutabilityViolation)
	}
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	s.records[rec.ID] = data
	s.metas[rec.ID] = rec.Meta(int64(len(data)))
	return nil
}

// Get decodes a stored record
func (s *MemoryStore) Get(ctx context.Context, id record.ID) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, id)
	}
	return record.Decode(data)
}

// List returns stored metadata newest first
func (s *MemoryStore) List(ctx context.Context, filter record.ListFilter) ([]record.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metas := make([]record.Metadata, 0, len(s.metas))
	for _, m := range s.metas {
		metas = append(metas, m)
	}
	return record.ApplyFilter(metas, filter), nil
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close closes the store
func (s *MemoryStore) Close() error {
	return nil
}

// StoreFactory creates stores by backend type. PostgreSQL stores need a
// connection pool and are built by the caller.
func StoreFactory(backend Backend, config map[string]string) (record.Store, error) {
	switch backend {
	case BackendFile:
		path := config["path"]
		if path == "" {
			path = ".fuel-pricing"
		}
		return NewFileStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ensure interfaces are implemented
var (
	_ record.Store = (*FileStore)(nil)
	_ record.Store = (*MemoryStore)(nil)
	_ io.Closer    = (*FileStore)(nil)
	_ io.Closer    = (*MemoryStore)(nil)
)
