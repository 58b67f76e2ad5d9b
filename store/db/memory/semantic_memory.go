package memory

import (
	"context"
	"maps"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/hrygo/storyreel/store"
)

func (d *DB) UpsertSemanticMemory(_ context.Context, upsert *store.UpsertSemanticMemory) (*store.SemanticMemory, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UnixMilli()
	for _, m := range d.semantic {
		if m.UserID != upsert.UserID || m.Category != upsert.Category || m.KnowledgeKey != upsert.KnowledgeKey {
			continue
		}
		m.KnowledgeValue = store.MergeKnowledgeValue(m.KnowledgeValue, upsert.KnowledgeValue)
		m.ConfidenceScore = math.Max(m.ConfidenceScore, upsert.ConfidenceScore)
		m.ImportanceScore = upsert.ImportanceScore
		if upsert.SourceEpisode != nil {
			episode := *upsert.SourceEpisode
			m.SourceEpisode = &episode
		}
		m.UpdatedTs = now
		return cloneSemanticMemory(m), false, nil
	}

	d.nextSemanticID++
	m := &store.SemanticMemory{
		ID:              d.nextSemanticID,
		UserID:          upsert.UserID,
		Category:        upsert.Category,
		KnowledgeKey:    upsert.KnowledgeKey,
		KnowledgeValue:  maps.Clone(upsert.KnowledgeValue),
		ConfidenceScore: upsert.ConfidenceScore,
		ImportanceScore: upsert.ImportanceScore,
		CreatedTs:       now,
		UpdatedTs:       now,
	}
	if upsert.SourceEpisode != nil {
		episode := *upsert.SourceEpisode
		m.SourceEpisode = &episode
	}
	d.semantic[m.ID] = m
	return cloneSemanticMemory(m), true, nil
}

func (d *DB) ListSemanticMemories(_ context.Context, find *store.FindSemanticMemory) ([]*store.SemanticMemory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.SemanticMemory{}
	for _, m := range d.semantic {
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.UserID != nil && m.UserID != *find.UserID {
			continue
		}
		if find.Category != nil && m.Category != *find.Category {
			continue
		}
		if find.KnowledgeKey != nil && m.KnowledgeKey != *find.KnowledgeKey {
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ImportanceScore != list[j].ImportanceScore {
			return list[i].ImportanceScore > list[j].ImportanceScore
		}
		if list[i].UpdatedTs != list[j].UpdatedTs {
			return list[i].UpdatedTs > list[j].UpdatedTs
		}
		return list[i].ID > list[j].ID
	})

	list = page(list, find.Limit, find.Offset)
	result := make([]*store.SemanticMemory, 0, len(list))
	for _, m := range list {
		result = append(result, cloneSemanticMemory(m))
	}
	return result, nil
}

func (d *DB) UpdateSemanticMemory(_ context.Context, update *store.UpdateSemanticMemory) (*store.SemanticMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.semantic[update.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if update.KnowledgeValue != nil {
		m.KnowledgeValue = maps.Clone(update.KnowledgeValue)
	}
	if update.ConfidenceScore != nil {
		m.ConfidenceScore = *update.ConfidenceScore
	}
	if update.ImportanceScore != nil {
		m.ImportanceScore = *update.ImportanceScore
	}
	m.UpdatedTs = time.Now().UnixMilli()
	return cloneSemanticMemory(m), nil
}

func (d *DB) IncrementSemanticMemoryAccess(_ context.Context, id int64) (*store.SemanticMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.semantic[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.AccessCount++
	return cloneSemanticMemory(m), nil
}

func (d *DB) DeleteSemanticMemories(_ context.Context, del *store.DeleteSemanticMemory) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var deleted int64
	for id, m := range d.semantic {
		if !slices.Contains(del.IDs, id) {
			continue
		}
		if del.UserID != nil && m.UserID != *del.UserID {
			continue
		}
		delete(d.semantic, id)
		deleted++
	}
	return deleted, nil
}

func (d *DB) CountSemanticMemoriesByCategory(_ context.Context, userID string) (map[store.KnowledgeCategory]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := map[store.KnowledgeCategory]int64{}
	for _, m := range d.semantic {
		if m.UserID == userID {
			counts[m.Category]++
		}
	}
	return counts, nil
}

func cloneSemanticMemory(m *store.SemanticMemory) *store.SemanticMemory {
	c := *m
	c.KnowledgeValue = maps.Clone(m.KnowledgeValue)
	if c.KnowledgeValue == nil {
		c.KnowledgeValue = map[string]any{}
	}
	if m.SourceEpisode != nil {
		episode := *m.SourceEpisode
		c.SourceEpisode = &episode
	}
	return &c
}
