package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Status is the ingestion state of one document. Transitions move forward
// only: RECEIVED → CHUNKED → EMBEDDED → INDEXED → COMPLETE, with FAILED
// reachable from any step.
type Status string

const (
	StatusReceived Status = "RECEIVED"
	StatusChunked  Status = "CHUNKED"
	StatusEmbedded Status = "EMBEDDED"
	StatusIndexed  Status = "INDEXED"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

// Record is the persisted ingestion state for one document id.
type Record struct {
	DocumentID   string    `json:"document_id"`
	Source       string    `json:"source,omitempty"`
	Status       Status    `json:"status"`
	ChunkCount   int       `json:"chunk_count,omitempty"`
	IndexedCount int       `json:"indexed_count,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StateStore persists per-document ingestion status. Implementations must
// tolerate concurrent ingestions of different documents.
type StateStore interface {
	Get(documentID string) (*Record, error)
	Put(rec *Record) error
	Delete(documentID string) error
	List() ([]*Record, error)
}

const stateVersion = "1.0.0"
const stateFileName = "ingest-state.json"

type stateFile struct {
	Version string             `json:"version"`
	Records map[string]*Record `json:"records"`
}

// FileStore is a JSON-file-backed StateStore. Good enough for a single
// worker process; the interface leaves room for a database-backed store.
type FileStore struct {
	mu   sync.Mutex
	path string
	data stateFile
}

// OpenFileStore loads (or initializes) the state file under dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	fs := &FileStore{
		path: filepath.Join(dir, stateFileName),
		data: stateFile{Version: stateVersion, Records: make(map[string]*Record)},
	}

	raw, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil // first run
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(raw, &fs.data); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if fs.data.Records == nil {
		fs.data.Records = make(map[string]*Record)
	}
	return fs, nil
}

func (s *FileStore) Get(documentID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Records[documentID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *FileStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.UpdatedAt = time.Now().UTC()
	s.data.Records[rec.DocumentID] = &cp
	return s.flushLocked()
}

func (s *FileStore) Delete(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Records[documentID]; !ok {
		return nil
	}
	delete(s.data.Records, documentID)
	return s.flushLocked()
}

func (s *FileStore) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, len(s.data.Records))
	for _, rec := range s.data.Records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (s *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}
