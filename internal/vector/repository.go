// Package vector defines the narrow boundary to the external vector store:
// upsert entries, delete by document, top-k similarity search.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ErrUnavailable reports that the vector store could not be reached. The
// ingestion workflow retries it with backoff; the query engine surfaces it
// to the caller immediately to bound query latency.
var ErrUnavailable = errors.New("vector store unavailable")

// Payload is the metadata stored alongside each vector.
type Payload struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Source     string
}

// Entry is one externally stored (id, vector, payload) tuple. The id is
// deterministic per (document id, chunk index), so re-upserting the same
// chunk overwrites rather than duplicates.
type Entry struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID      string
	Score   float32
	Payload Payload
}

// SearchFilter optionally restricts a search. The zero value matches
// everything.
type SearchFilter struct {
	// Source restricts hits to entries ingested from one document source.
	Source string
}

// Repository provides vector storage and similarity search.
type Repository interface {
	// Upsert inserts or replaces entries by id and returns how many were
	// written. No ordering guarantee across entries in one call.
	Upsert(ctx context.Context, entries []Entry) (int, error)
	// DeleteByDocument removes every entry of the given document id and
	// returns how many were removed.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
	// Search returns at most k hits ranked by descending similarity.
	Search(ctx context.Context, vector []float32, k int, filter *SearchFilter) ([]SearchResult, error)
	// ListSources returns the distinct document sources present in the index.
	ListSources(ctx context.Context) ([]string, error)
	// Close releases the connection.
	Close() error
}

// EntryID derives the deterministic UUIDv5 id for a chunk of a document.
// Re-ingesting the same document yields the same ids, keeping upserts
// idempotent.
func EntryID(documentID string, chunkIndex int) string {
	name := documentID + ":" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Unavailable wraps err as an ErrUnavailable with context.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
