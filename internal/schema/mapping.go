package schema

import (
	"fmt"

	"github.com/tesseradb/tessera/storage-node/internal/model"
)

// MappingCache holds the column mappings learned for historical schema
// versions during one replay. Each shard owns exactly one cache and touches
// it only from its own executor, so no locking is needed. The cache lives
// from replay start to replay end.
type MappingCache struct {
	mappings map[model.SchemaVersion]model.ColumnMapping
}

// NewMappingCache returns an empty cache.
func NewMappingCache() *MappingCache {
	return &MappingCache{mappings: make(map[model.SchemaVersion]model.ColumnMapping)}
}

// Lookup returns the mapping recorded for the version.
func (c *MappingCache) Lookup(v model.SchemaVersion) (model.ColumnMapping, bool) {
	m, ok := c.mappings[v]
	return m, ok
}

// Insert records the mapping for a version not seen before on this shard.
// Re-inserting an already known version is a no-op; mappings for a given
// version are immutable.
func (c *MappingCache) Insert(v model.SchemaVersion, m model.ColumnMapping) model.ColumnMapping {
	if existing, ok := c.mappings[v]; ok {
		return existing
	}
	c.mappings[v] = m
	return m
}

// Len returns the number of versions cached.
func (c *MappingCache) Len() int {
	return len(c.mappings)
}

// ProjectPartition rewrites a partition written under srcMapping into the
// shape of the live schema. Cells are matched by column name: a cell whose
// source column still exists in the live schema is re-indexed against the
// live mapping, a cell whose column was dropped is discarded. This is the
// converting partition applier of the replay path.
func ProjectPartition(srcMapping model.ColumnMapping, live model.Schema, p model.Partition) (model.Partition, error) {
	out := model.Partition{Cells: make([]model.Cell, 0, len(p.Cells))}

	for _, cell := range p.Cells {
		if int(cell.Column) >= len(srcMapping.Columns) {
			return model.Partition{}, fmt.Errorf("cell references column %d outside source mapping of %d columns",
				cell.Column, len(srcMapping.Columns))
		}
		name := srcMapping.Columns[cell.Column].Name

		idx := live.Mapping.IndexOf(name)
		if idx < 0 {
			// Column dropped from the live schema. Its data is gone on
			// purpose, same as for a dropped table.
			continue
		}

		out.Cells = append(out.Cells, model.Cell{
			Column:    uint32(idx),
			Timestamp: cell.Timestamp,
			Value:     cell.Value,
		})
	}

	return out, nil
}
