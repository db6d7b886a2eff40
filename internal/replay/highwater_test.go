package replay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tesseradb/tessera/storage-node/internal/model"
	"github.com/tesseradb/tessera/storage-node/internal/shard"
	"github.com/tesseradb/tessera/storage-node/internal/store"
)

func newPool(t *testing.T, shards int) *shard.ExecutorPool {
	t.Helper()
	pool := shard.NewExecutorPool(&shard.Config{ShardCount: shards, QueueSize: 64, Logger: zap.NewNop()})
	t.Cleanup(func() { pool.Stop(5 * time.Second) })
	return pool
}

func newSchema(names ...string) model.Schema {
	cols := make([]model.Column, len(names))
	for i, n := range names {
		cols[i] = model.Column{Name: n, Kind: model.ColumnKindRegular}
	}
	return model.Schema{
		Version: model.SchemaVersion(uuid.New()),
		Mapping: model.ColumnMapping{Columns: cols},
	}
}

func buildMarks(t *testing.T, db store.Database, trunc store.TruncationStore) *highWaterMarks {
	t.Helper()
	pool := newPool(t, db.ShardCount())
	hwm, err := buildHighWaterMarks(context.Background(), db, trunc, pool, zap.NewNop())
	require.NoError(t, err)
	return hwm
}

func TestHighWaterMarksEmptyState(t *testing.T) {
	db := store.NewMemDatabase(2)
	db.AddTable(model.TableID(uuid.New()), newSchema("v"))

	hwm := buildMarks(t, db, store.NewMemTruncationStore())

	assert.Empty(t, hwm.rpm)
	assert.True(t, hwm.shardMin(0).IsZero())
	assert.True(t, hwm.shardMin(1).IsZero())
}

func TestHighWaterMarksTakeMaxAcrossSSTables(t *testing.T) {
	db := store.NewMemDatabase(1)
	tableA := model.TableID(uuid.New())
	db.AddTable(tableA, newSchema("v"))

	require.NoError(t, db.AddSSTable(0, tableA, store.NewMemSSTable("a-1",
		model.ReplayPosition{ShardID: 0, SegmentID: 3, Offset: 100})))
	require.NoError(t, db.AddSSTable(0, tableA, store.NewMemSSTable("a-2",
		model.ReplayPosition{ShardID: 0, SegmentID: 7, Offset: 50})))
	require.NoError(t, db.AddSSTable(0, tableA, store.NewMemSSTable("a-3",
		model.ReplayPosition{ShardID: 0, SegmentID: 7, Offset: 20})))

	hwm := buildMarks(t, db, store.NewMemTruncationStore())

	pos, ok := hwm.tablePosition(0, tableA)
	require.True(t, ok)
	assert.Equal(t, model.ReplayPosition{ShardID: 0, SegmentID: 7, Offset: 50}, pos)
	assert.Equal(t, pos, hwm.shardMin(0))
}

func TestHighWaterMarksMergeTruncations(t *testing.T) {
	db := store.NewMemDatabase(1)
	tableA := model.TableID(uuid.New())
	db.AddTable(tableA, newSchema("v"))

	require.NoError(t, db.AddSSTable(0, tableA, store.NewMemSSTable("a-1",
		model.ReplayPosition{ShardID: 0, SegmentID: 3, Offset: 100})))

	trunc := store.NewMemTruncationStore()
	trunc.RecordTruncation(tableA, model.ReplayPosition{ShardID: 0, SegmentID: 9, Offset: 0})

	hwm := buildMarks(t, db, trunc)

	pos, ok := hwm.tablePosition(0, tableA)
	require.True(t, ok)
	assert.Equal(t, uint64(9), pos.SegmentID, "truncation must raise the high-water mark")
}

func TestHighWaterMarksMissingTableForcesZeroMin(t *testing.T) {
	db := store.NewMemDatabase(2)
	tableA := model.TableID(uuid.New())
	tableB := model.TableID(uuid.New())
	db.AddTable(tableA, newSchema("v"))
	db.AddTable(tableB, newSchema("v"))

	// Durable data for table A only. Table B's implicit zero must drag the
	// shard minimum down even though it has no map entry.
	require.NoError(t, db.AddSSTable(0, tableA, store.NewMemSSTable("a-1",
		model.ReplayPosition{ShardID: 0, SegmentID: 20, Offset: 500})))

	hwm := buildMarks(t, db, store.NewMemTruncationStore())

	pos, ok := hwm.tablePosition(0, tableA)
	require.True(t, ok)
	assert.Equal(t, uint64(20), pos.SegmentID)
	assert.True(t, hwm.shardMin(0).IsZero())
}

func TestHighWaterMarksNarrowMinWithAllTablesPresent(t *testing.T) {
	db := store.NewMemDatabase(1)
	tableA := model.TableID(uuid.New())
	tableB := model.TableID(uuid.New())
	db.AddTable(tableA, newSchema("v"))
	db.AddTable(tableB, newSchema("v"))

	require.NoError(t, db.AddSSTable(0, tableA, store.NewMemSSTable("a-1",
		model.ReplayPosition{ShardID: 0, SegmentID: 20, Offset: 500})))
	require.NoError(t, db.AddSSTable(0, tableB, store.NewMemSSTable("b-1",
		model.ReplayPosition{ShardID: 0, SegmentID: 5, Offset: 40})))

	hwm := buildMarks(t, db, store.NewMemTruncationStore())

	assert.Equal(t, model.ReplayPosition{ShardID: 0, SegmentID: 5, Offset: 40}, hwm.shardMin(0))

	// The minimum never exceeds any table's mark.
	for shardID, tables := range hwm.rpm {
		for _, pos := range tables {
			assert.True(t, hwm.shardMin(shardID).LessEq(pos))
		}
	}
}

func TestHighWaterMarksKeyedByRecordedShard(t *testing.T) {
	// Positions carry the shard that wrote them; a file observed while
	// scanning shard 0 may belong to historic shard 5.
	db := store.NewMemDatabase(2)
	tableA := model.TableID(uuid.New())
	db.AddTable(tableA, newSchema("v"))

	require.NoError(t, db.AddSSTable(0, tableA, store.NewMemSSTable("a-1",
		model.ReplayPosition{ShardID: 5, SegmentID: 8, Offset: 64})))

	hwm := buildMarks(t, db, store.NewMemTruncationStore())

	pos, ok := hwm.tablePosition(5, tableA)
	require.True(t, ok)
	assert.Equal(t, uint64(8), pos.SegmentID)

	_, ok = hwm.tablePosition(0, tableA)
	assert.False(t, ok)
}

func TestHighWaterMarksSkipUnreadableMetadata(t *testing.T) {
	db := store.NewMemDatabase(1)
	tableA := model.TableID(uuid.New())
	db.AddTable(tableA, newSchema("v"))

	require.NoError(t, db.AddSSTable(0, tableA, store.NewMemSSTable("a-good",
		model.ReplayPosition{ShardID: 0, SegmentID: 4, Offset: 10})))
	require.NoError(t, db.AddSSTable(0, tableA,
		store.NewMemSSTable("a-bad", model.ReplayPosition{ShardID: 0, SegmentID: 99, Offset: 0}).
			FailMetadata(fmt.Errorf("stats component truncated"))))

	hwm := buildMarks(t, db, store.NewMemTruncationStore())

	// The unreadable file contributes nothing, and init still succeeds.
	pos, ok := hwm.tablePosition(0, tableA)
	require.True(t, ok)
	assert.Equal(t, uint64(4), pos.SegmentID)
}

func TestHighWaterMarksMonotoneUnderMoreSSTables(t *testing.T) {
	tableA := model.TableID(uuid.New())
	schema := newSchema("v")

	first := store.NewMemDatabase(1)
	first.AddTable(tableA, schema)
	require.NoError(t, first.AddSSTable(0, tableA, store.NewMemSSTable("a-1",
		model.ReplayPosition{ShardID: 0, SegmentID: 4, Offset: 10})))
	hwm1 := buildMarks(t, first, store.NewMemTruncationStore())

	second := store.NewMemDatabase(1)
	second.AddTable(tableA, schema)
	require.NoError(t, second.AddSSTable(0, tableA, store.NewMemSSTable("a-1",
		model.ReplayPosition{ShardID: 0, SegmentID: 4, Offset: 10})))
	require.NoError(t, second.AddSSTable(0, tableA, store.NewMemSSTable("a-2",
		model.ReplayPosition{ShardID: 0, SegmentID: 6, Offset: 0})))
	hwm2 := buildMarks(t, second, store.NewMemTruncationStore())

	p1, _ := hwm1.tablePosition(0, tableA)
	p2, _ := hwm2.tablePosition(0, tableA)
	assert.True(t, p1.LessEq(p2), "extending the on-disk state must never lower a mark")
}
