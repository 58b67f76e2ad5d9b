package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/hrygo/storyreel/store"
)

func (d *DB) UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UnixMilli()
	key := embeddingKey{memoryType: embedding.MemoryType, memoryID: embedding.MemoryID, model: embedding.Model}
	if existing, ok := d.embeddings[key]; ok {
		embedding.ID = existing.ID
		embedding.CreatedTs = existing.CreatedTs
		if existing.UserID != embedding.UserID {
			if err := d.removeDocument(ctx, existing); err != nil {
				return nil, err
			}
		}
	} else {
		d.nextEmbeddingID++
		embedding.ID = d.nextEmbeddingID
		embedding.CreatedTs = now
	}
	embedding.UpdatedTs = now

	if embedding.MemoryType == store.MemoryTypeSemantic && !isZeroVector(embedding.Embedding) {
		col, err := d.collection(embedding.UserID, embedding.Model)
		if err != nil {
			return nil, err
		}
		doc := chromem.Document{
			ID:        strconv.FormatInt(embedding.MemoryID, 10),
			Content:   fmt.Sprintf("%s#%d", embedding.MemoryType, embedding.MemoryID),
			Embedding: slices.Clone(embedding.Embedding),
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("add document: %w", err)
		}
	}

	stored := *embedding
	stored.Embedding = slices.Clone(embedding.Embedding)
	d.embeddings[key] = &stored
	return embedding, nil
}

func (d *DB) ListMemoryEmbeddings(_ context.Context, find *store.FindMemoryEmbedding) ([]*store.MemoryEmbedding, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.MemoryEmbedding{}
	for _, e := range d.embeddings {
		if find.MemoryType != nil && e.MemoryType != *find.MemoryType {
			continue
		}
		if find.MemoryID != nil && e.MemoryID != *find.MemoryID {
			continue
		}
		if find.UserID != nil && e.UserID != *find.UserID {
			continue
		}
		if find.Model != nil && e.Model != *find.Model {
			continue
		}
		c := *e
		c.Embedding = slices.Clone(e.Embedding)
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs > list[j].CreatedTs
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

func (d *DB) DeleteMemoryEmbeddings(ctx context.Context, del *store.DeleteMemoryEmbedding) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var deleted int64
	for key, e := range d.embeddings {
		if key.memoryType != del.MemoryType || !slices.Contains(del.MemoryIDs, key.memoryID) {
			continue
		}
		if err := d.removeDocument(ctx, e); err != nil {
			return deleted, err
		}
		delete(d.embeddings, key)
		deleted++
	}
	return deleted, nil
}

func (d *DB) FindSemanticMemoriesWithoutEmbedding(_ context.Context, find *store.FindSemanticMemoriesWithoutEmbedding) ([]*store.SemanticMemory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.SemanticMemory{}
	for _, m := range d.semantic {
		key := embeddingKey{memoryType: store.MemoryTypeSemantic, memoryID: m.ID, model: find.Model}
		if _, ok := d.embeddings[key]; ok {
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedTs != list[j].UpdatedTs {
			return list[i].UpdatedTs > list[j].UpdatedTs
		}
		return list[i].ID > list[j].ID
	})

	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}
	list = page(list, limit, 0)
	result := make([]*store.SemanticMemory, 0, len(list))
	for _, m := range list {
		result = append(result, cloneSemanticMemory(m))
	}
	return result, nil
}

// SemanticVectorSearch ranks the whole (user, model) collection with chromem
// and re-sorts so equal scores fall back to the newer memory id.
func (d *DB) SemanticVectorSearch(ctx context.Context, opts *store.SemanticVectorSearchOptions) ([]*store.SemanticMemoryWithScore, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	col, ok := d.collections[collectionKey{userID: opts.UserID, model: opts.Model}]
	if !ok || col.Count() == 0 || isZeroVector(opts.Vector) {
		return []*store.SemanticMemoryWithScore{}, nil
	}

	// chromem-go requires nResults <= collection size.
	results, err := col.QueryEmbedding(ctx, opts.Vector, col.Count(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	scored := make([]*store.SemanticMemoryWithScore, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		m, ok := d.semantic[id]
		if !ok {
			continue
		}
		scored = append(scored, &store.SemanticMemoryWithScore{
			SemanticMemory: cloneSemanticMemory(m),
			Score:          r.Similarity,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].SemanticMemory.ID > scored[j].SemanticMemory.ID
	})
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored, nil
}

// removeDocument drops a semantic embedding from its chromem collection. Callers hold d.mu.
func (d *DB) removeDocument(ctx context.Context, e *store.MemoryEmbedding) error {
	if e.MemoryType != store.MemoryTypeSemantic {
		return nil
	}
	col, ok := d.collections[collectionKey{userID: e.UserID, model: e.Model}]
	if !ok {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, strconv.FormatInt(e.MemoryID, 10)); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
