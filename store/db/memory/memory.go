// Package memory is a process-local store driver. Rows live in Go maps and
// semantic embeddings live in chromem-go collections, one per (user, model).
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/hrygo/storyreel/internal/profile"
	"github.com/hrygo/storyreel/store"
)

type DB struct {
	profile *profile.Profile
	vectors *chromem.DB

	mu            sync.RWMutex
	episodic      map[int64]*store.EpisodicMemory
	semantic      map[int64]*store.SemanticMemory
	profiles      map[string]*store.UserMemoryProfile
	embeddings    map[embeddingKey]*store.MemoryEmbedding
	records       []*store.ConsolidationRecord
	collections   map[collectionKey]*chromem.Collection
	schemaVersion string

	nextEpisodicID      int64
	nextSemanticID      int64
	nextEmbeddingID     int64
	nextConsolidationID int64
}

type embeddingKey struct {
	memoryType store.MemoryType
	memoryID   int64
	model      string
}

type collectionKey struct {
	userID string
	model  string
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	return &DB{
		profile:     profile,
		vectors:     chromem.NewDB(),
		episodic:    map[int64]*store.EpisodicMemory{},
		semantic:    map[int64]*store.SemanticMemory{},
		profiles:    map[string]*store.UserMemoryProfile{},
		embeddings:  map[embeddingKey]*store.MemoryEmbedding{},
		collections: map[collectionKey]*chromem.Collection{},
	}, nil
}

// GetDB returns nil: there is no SQL schema to migrate.
func (*DB) GetDB() *sql.DB {
	return nil
}

func (*DB) Close() error {
	return nil
}

func (*DB) IsInitialized(context.Context) (bool, error) {
	return true, nil
}

func (d *DB) GetSchemaVersion(context.Context) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.schemaVersion, nil
}

func (d *DB) SetSchemaVersion(_ context.Context, version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schemaVersion = version
	return nil
}

// collection returns the chromem collection for a user and model.
// Callers hold d.mu for writing.
func (d *DB) collection(userID, model string) (*chromem.Collection, error) {
	key := collectionKey{userID: userID, model: model}
	if col, ok := d.collections[key]; ok {
		return col, nil
	}
	col, err := d.vectors.CreateCollection(fmt.Sprintf("semantic/%s/%s", model, userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	d.collections[key] = col
	return col, nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(list) {
			return []T{}
		}
		list = list[offset:]
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
