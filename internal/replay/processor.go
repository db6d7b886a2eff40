package replay

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/tesseradb/tessera/storage-node/internal/errors"
	"github.com/tesseradb/tessera/storage-node/internal/model"
	"github.com/tesseradb/tessera/storage-node/internal/schema"
	"github.com/tesseradb/tessera/storage-node/internal/shard"
	"github.com/tesseradb/tessera/storage-node/internal/store"
)

// entryProcessor handles every framed entry streamed out of one shard's
// segment files. It runs on that shard's executor; the only way it touches
// another shard is by invoking the mutation apply on the owning executor.
type entryProcessor struct {
	shardID uint32
	db      store.Database
	pool    *shard.ExecutorPool
	hwm     *highWaterMarks
	caches  []*schema.MappingCache
	logger  *zap.Logger
}

// process decodes one entry, filters it against the high-water marks, and
// dispatches it to the shard owning its partition key. Per-entry failures
// are absorbed into stats; a non-nil return aborts the segment scan.
func (p *entryProcessor) process(ctx context.Context, payload []byte, rp model.ReplayPosition, stats *model.ReplayStats) error {
	var entry model.CommitLogEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		stats.InvalidMutations++
		p.logger.Warn("Failed to decode commit log entry",
			zap.String("position", rp.String()),
			zap.Error(err))
		return nil
	}
	fm := entry.Mutation

	cache := p.caches[p.shardID]
	srcMapping, ok := cache.Lookup(fm.SchemaVersion)
	if !ok {
		if entry.Mapping == nil {
			stats.InvalidMutations++
			p.logger.Warn("Error replaying",
				zap.String("position", rp.String()),
				zap.Error(errors.UnknownSchemaVersion(fm.SchemaVersion.String())))
			return nil
		}
		p.logger.Debug("New schema version in entry",
			zap.String("schema_version", fm.SchemaVersion.String()),
			zap.String("position", rp.String()))
		srcMapping = cache.Insert(fm.SchemaVersion, *entry.Mapping)
	}

	if rp.Less(p.hwm.shardMin(rp.ShardID)) {
		p.logger.Debug("Entry below global minimum position, skipping",
			zap.String("position", rp.String()))
		stats.SkippedMutations++
		return nil
	}

	if pos, ok := p.hwm.tablePosition(rp.ShardID, fm.TableID); ok && rp.LessEq(pos) {
		p.logger.Debug("Entry not above recorded replay position, skipping",
			zap.String("table_id", fm.TableID.String()),
			zap.String("position", rp.String()),
			zap.String("recorded", pos.String()))
		stats.SkippedMutations++
		return nil
	}

	owner := p.db.ShardOf(fm.Key)

	apply := func(context.Context) error {
		return p.applyOnShard(owner, fm, srcMapping, rp)
	}

	var err error
	if owner == p.shardID {
		err = apply(ctx)
	} else {
		err = p.pool.Invoke(ctx, owner, apply)
	}

	if err != nil {
		var re *errors.ReplayError
		if stderrors.As(err, &re) && re.Code == errors.ErrCodeNoSuchColumnFamily {
			// The table was dropped; its data is intentionally not replayed.
			p.logger.Debug("Dropping entry for missing column family",
				zap.String("table_id", fm.TableID.String()),
				zap.String("position", rp.String()))
			return nil
		}
		stats.InvalidMutations++
		p.logger.Warn("Error replaying",
			zap.String("position", rp.String()),
			zap.Error(err))
		return nil
	}

	stats.AppliedMutations++
	return nil
}

// applyOnShard runs on the owning shard's executor. It looks up the live
// table, reconciles the schema version, and merges the mutation in.
func (p *entryProcessor) applyOnShard(owner uint32, fm model.FrozenMutation, srcMapping model.ColumnMapping, rp model.ReplayPosition) error {
	cf, ok := p.db.FindColumnFamily(owner, fm.TableID)
	if !ok {
		return errors.NoSuchColumnFamily(fm.TableID.String())
	}
	live := cf.Schema()

	p.logger.Debug("Replaying mutation",
		zap.String("table_id", fm.TableID.String()),
		zap.String("schema_version", fm.SchemaVersion.String()),
		zap.Uint32("owner_shard", owner),
		zap.String("position", rp.String()))

	// The re-applied mutation carries no replay position. When the memtable
	// it lands in is next flushed, the resulting on-disk table records an
	// empty position, which orders below anything the new session writes,
	// so this data never re-enters the high-water marks.
	if live.Version == fm.SchemaVersion {
		return cf.Apply(fm)
	}

	mapping := p.caches[owner].Insert(fm.SchemaVersion, srcMapping)
	projected, err := schema.ProjectPartition(mapping, live, fm.Partition)
	if err != nil {
		return errors.ApplyFailed("failed to project frozen partition onto live schema", err)
	}

	converted := model.FrozenMutation{
		TableID:       fm.TableID,
		SchemaVersion: live.Version,
		Key:           fm.Key,
		Partition:     projected,
	}
	return cf.Apply(converted)
}
