package replay

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tesseradb/tessera/storage-node/internal/errors"
	"github.com/tesseradb/tessera/storage-node/internal/model"
	"github.com/tesseradb/tessera/storage-node/internal/shard"
	"github.com/tesseradb/tessera/storage-node/internal/store"
)

// shardRpmMap maps a historical shard id to the per-table maximum durable
// replay position observed for that shard.
type shardRpmMap map[uint32]map[model.TableID]model.ReplayPosition

func (m shardRpmMap) fold(shardID uint32, tableID model.TableID, pos model.ReplayPosition) {
	tables, ok := m[shardID]
	if !ok {
		tables = make(map[model.TableID]model.ReplayPosition)
		m[shardID] = tables
	}
	tables[tableID] = tables[tableID].Max(pos)
}

// highWaterMarks is the read-only product of the init scan: for every
// historical shard, the per-table greatest already-durable position, and the
// per-shard minimum over those. Built once, then shared read-only across all
// shard executors.
type highWaterMarks struct {
	rpm    shardRpmMap
	minPos map[uint32]model.ReplayPosition
}

// tablePosition returns the recorded high-water mark for (shard, table).
func (h *highWaterMarks) tablePosition(shardID uint32, tableID model.TableID) (model.ReplayPosition, bool) {
	tables, ok := h.rpm[shardID]
	if !ok {
		return model.ReplayPosition{}, false
	}
	pos, ok := tables[tableID]
	return pos, ok
}

// shardMin returns the global minimum position of a shard. A shard with no
// durable data at all yields the zero position.
func (h *highWaterMarks) shardMin(shardID uint32) model.ReplayPosition {
	return h.minPos[shardID]
}

// buildHighWaterMarks scans every shard's column families in parallel on the
// shard executors, reading the replay position out of each on-disk table's
// metadata and every truncation record, and merges the per-shard results by
// element-wise max. Individual metadata read failures are logged and skipped;
// a traversal failure is fatal.
func buildHighWaterMarks(
	ctx context.Context,
	db store.Database,
	truncations store.TruncationStore,
	pool *shard.ExecutorPool,
	logger *zap.Logger,
) (*highWaterMarks, error) {
	shardCount := db.ShardCount()
	locals := make([]shardRpmMap, shardCount)
	scanErrs := make([]error, shardCount)

	var wg sync.WaitGroup
	for s := 0; s < shardCount; s++ {
		s := uint32(s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Invoke(ctx, s, func(context.Context) error {
				local, err := scanShard(db, truncations, s, logger)
				if err != nil {
					return err
				}
				locals[s] = local
				return nil
			})
			scanErrs[s] = err
		}()
	}
	wg.Wait()

	for _, err := range scanErrs {
		if err != nil {
			return nil, err
		}
	}

	h := &highWaterMarks{
		rpm:    make(shardRpmMap),
		minPos: make(map[uint32]model.ReplayPosition),
	}
	for _, local := range locals {
		for shardID, tables := range local {
			for tableID, pos := range tables {
				h.rpm.fold(shardID, tableID, pos)
			}
		}
	}

	// Narrow minimum over the merged map.
	for shardID, tables := range h.rpm {
		first := true
		var min model.ReplayPosition
		for _, pos := range tables {
			if first || pos.Less(min) {
				min = pos
				first = false
			}
		}
		h.minPos[shardID] = min
	}

	// The merge cannot detect tables that are missing from a shard's map:
	// because of re-sharding the historic shard set is unknowable, so a
	// missing entry cannot be seeded with zeros up front. A table with no
	// on-disk data on a shard contributes an implicit zero high-water mark,
	// which drags that shard's global minimum to zero.
	for _, tableID := range db.TableIDs() {
		for shardID, tables := range h.rpm {
			if _, ok := tables[tableID]; !ok {
				h.minPos[shardID] = model.ReplayPosition{ShardID: shardID}
			}
		}
	}

	for shardID, pos := range h.minPos {
		logger.Debug("Minimum replay position for shard",
			zap.Uint32("shard", shardID),
			zap.String("position", pos.String()))
	}
	for shardID, tables := range h.rpm {
		for tableID, pos := range tables {
			logger.Debug("Replay position for shard/table",
				zap.Uint32("shard", shardID),
				zap.String("table_id", tableID.String()),
				zap.String("position", pos.String()))
		}
	}

	return h, nil
}

// scanShard produces one shard's local high-water map from its column
// families' on-disk tables and truncation records. Positions are keyed by the
// shard id recorded in the position itself, not by the scanning shard.
func scanShard(
	db store.Database,
	truncations store.TruncationStore,
	shardID uint32,
	logger *zap.Logger,
) (shardRpmMap, error) {
	local := make(shardRpmMap)

	cfs, err := db.ColumnFamilies(shardID)
	if err != nil {
		return nil, err
	}

	for tableID, cf := range cfs {
		for _, sst := range cf.SSTables() {
			md, err := sst.StatsMetadata()
			if err != nil {
				logger.Warn("Could not read sstable metadata",
					zap.Error(errors.MetadataUnreadable(sst.Filename(), err)))
				continue
			}
			logger.Debug("On-disk table replay position",
				zap.String("filename", sst.Filename()),
				zap.String("position", md.Position.String()))
			local.fold(md.Position.ShardID, tableID, md.Position)
		}

		// Fetched on each shard for each table, which is a little wasteful,
		// but the records are cached, this is startup only, and there may be
		// no on-disk tables to mark the table as needed.
		tpps, err := truncations.TruncatedPositions(tableID)
		if err != nil {
			return nil, err
		}
		for _, tp := range tpps {
			logger.Debug("Table truncated",
				zap.String("table_id", tableID.String()),
				zap.String("position", tp.String()))
			local.fold(tp.ShardID, tableID, tp)
		}
	}

	return local, nil
}
