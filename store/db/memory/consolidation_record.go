package memory

import (
	"context"

	"github.com/hrygo/storyreel/store"
)

func (d *DB) CreateConsolidationRecord(_ context.Context, create *store.ConsolidationRecord) (*store.ConsolidationRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextConsolidationID++
	create.ID = d.nextConsolidationID
	record := *create
	d.records = append(d.records, &record)
	return create, nil
}

// ListConsolidationRecords walks the append-only log backwards, which is newest-first.
func (d *DB) ListConsolidationRecords(_ context.Context, find *store.FindConsolidationRecord) ([]*store.ConsolidationRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.ConsolidationRecord{}
	for i := len(d.records) - 1; i >= 0; i-- {
		r := d.records[i]
		if find.EpisodeID != nil && r.EpisodeID != *find.EpisodeID {
			continue
		}
		if find.UserID != nil && r.UserID != *find.UserID {
			continue
		}
		record := *r
		list = append(list, &record)
		if find.Limit > 0 && len(list) == find.Limit {
			break
		}
	}
	return list, nil
}
