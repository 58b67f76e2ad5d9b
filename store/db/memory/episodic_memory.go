package memory

import (
	"context"
	"maps"
	"sort"

	"github.com/hrygo/storyreel/store"
)

func (d *DB) CreateEpisodicMemory(_ context.Context, create *store.EpisodicMemory) (*store.EpisodicMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextEpisodicID++
	create.ID = d.nextEpisodicID
	d.episodic[create.ID] = cloneEpisodicMemory(create)
	return create, nil
}

func (d *DB) ListEpisodicMemories(_ context.Context, find *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := d.matchEpisodic(find)
	list = page(list, find.Limit, find.Offset)
	result := make([]*store.EpisodicMemory, 0, len(list))
	for _, m := range list {
		result = append(result, cloneEpisodicMemory(m))
	}
	return result, nil
}

func (d *DB) CountEpisodicMemories(_ context.Context, find *store.FindEpisodicMemory) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.matchEpisodic(find))), nil
}

func (d *DB) UpdateEpisodicMemory(_ context.Context, update *store.UpdateEpisodicMemory) (*store.EpisodicMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.episodic[update.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	score := *update.QualityScore
	m.QualityScore = &score
	return cloneEpisodicMemory(m), nil
}

func (d *DB) DeleteEpisodicMemories(_ context.Context, del *store.DeleteEpisodicMemory) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := d.matchEpisodic(&store.FindEpisodicMemory{
		ID:        del.ID,
		EpisodeID: del.EpisodeID,
		UserID:    del.UserID,
	})
	for _, m := range matched {
		delete(d.episodic, m.ID)
	}
	return int64(len(matched)), nil
}

// matchEpisodic returns stored rows matching find, newest first. Callers hold d.mu.
func (d *DB) matchEpisodic(find *store.FindEpisodicMemory) []*store.EpisodicMemory {
	list := []*store.EpisodicMemory{}
	for _, m := range d.episodic {
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.UID != nil && m.UID != *find.UID {
			continue
		}
		if find.EpisodeID != nil && m.EpisodeID != *find.EpisodeID {
			continue
		}
		if find.UserID != nil && m.UserID != *find.UserID {
			continue
		}
		if find.AgentName != nil && m.AgentName != *find.AgentName {
			continue
		}
		if find.MinQuality != nil && (m.QualityScore == nil || *m.QualityScore < *find.MinQuality) {
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs > list[j].CreatedTs
		}
		return list[i].ID > list[j].ID
	})
	return list
}

func cloneEpisodicMemory(m *store.EpisodicMemory) *store.EpisodicMemory {
	c := *m
	c.DecisionContext = maps.Clone(m.DecisionContext)
	c.Outcome = maps.Clone(m.Outcome)
	if m.QualityScore != nil {
		score := *m.QualityScore
		c.QualityScore = &score
	}
	return &c
}
