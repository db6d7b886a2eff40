package store

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/tesseradb/tessera/storage-node/internal/errors"
	"github.com/tesseradb/tessera/storage-node/internal/model"
)

// MemDatabase is the in-memory implementation of the Database handle. The
// storage node's replay tool and the replay tests run against it; the real
// LSM engine satisfies the same contracts.
type MemDatabase struct {
	mu     sync.RWMutex
	shards []map[model.TableID]*MemColumnFamily
}

// NewMemDatabase creates a database with shardCount empty shards.
func NewMemDatabase(shardCount int) *MemDatabase {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]map[model.TableID]*MemColumnFamily, shardCount)
	for i := range shards {
		shards[i] = make(map[model.TableID]*MemColumnFamily)
	}
	return &MemDatabase{shards: shards}
}

// AddTable registers a column family, creating one instance per shard.
func (db *MemDatabase) AddTable(id model.TableID, schema model.Schema) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, shard := range db.shards {
		shard[id] = &MemColumnFamily{
			id:         id,
			schema:     schema,
			partitions: make(map[string]*memPartition),
		}
	}
}

// DropTable removes a column family from every shard.
func (db *MemDatabase) DropTable(id model.TableID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, shard := range db.shards {
		delete(shard, id)
	}
}

// SetSchema swaps the live schema of a table on every shard.
func (db *MemDatabase) SetSchema(id model.TableID, schema model.Schema) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, shard := range db.shards {
		if cf, ok := shard[id]; ok {
			cf.schema = schema
		}
	}
}

// AddSSTable attaches on-disk-table metadata to one shard's instance of a
// table.
func (db *MemDatabase) AddSSTable(shardID uint32, id model.TableID, sst SSTable) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if int(shardID) >= len(db.shards) {
		return fmt.Errorf("shard %d out of range", shardID)
	}
	cf, ok := db.shards[shardID][id]
	if !ok {
		return errors.NoSuchColumnFamily(id.String())
	}
	cf.sstables = append(cf.sstables, sst)
	return nil
}

func (db *MemDatabase) ShardCount() int {
	return len(db.shards)
}

func (db *MemDatabase) ShardOf(key model.DecoratedKey) uint32 {
	return uint32(key.Token % uint64(len(db.shards)))
}

func (db *MemDatabase) TableIDs() []model.TableID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ids := make([]model.TableID, 0, len(db.shards[0]))
	for id := range db.shards[0] {
		ids = append(ids, id)
	}
	return ids
}

func (db *MemDatabase) ColumnFamilies(shardID uint32) (map[model.TableID]ColumnFamily, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if int(shardID) >= len(db.shards) {
		return nil, fmt.Errorf("shard %d out of range", shardID)
	}
	out := make(map[model.TableID]ColumnFamily, len(db.shards[shardID]))
	for id, cf := range db.shards[shardID] {
		out[id] = cf
	}
	return out, nil
}

func (db *MemDatabase) FindColumnFamily(shardID uint32, id model.TableID) (ColumnFamily, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if int(shardID) >= len(db.shards) {
		return nil, false
	}
	cf, ok := db.shards[shardID][id]
	if !ok {
		return nil, false
	}
	return cf, true
}

// MemColumnFamily is one shard's in-memory instance of a table. Mutation
// happens only on the owning shard's executor, so partition state carries no
// lock.
type MemColumnFamily struct {
	id         model.TableID
	schema     model.Schema
	sstables   []SSTable
	partitions map[string]*memPartition
}

type memPartition struct {
	cells map[string]CellValue
}

// CellValue is the stored form of one column of one partition.
type CellValue struct {
	Timestamp int64
	Value     []byte
}

func (cf *MemColumnFamily) ID() model.TableID {
	return cf.id
}

func (cf *MemColumnFamily) Schema() model.Schema {
	return cf.schema
}

func (cf *MemColumnFamily) SSTables() []SSTable {
	return cf.sstables
}

// Apply merges the mutation into the instance. Merge is last-write-wins per
// column: the higher timestamp wins, ties break on the lexicographically
// greater value so apply order never changes the outcome.
func (cf *MemColumnFamily) Apply(m model.FrozenMutation) error {
	if m.SchemaVersion != cf.schema.Version {
		return errors.SchemaMismatch(cf.schema.Version.String(), m.SchemaVersion.String())
	}

	p, ok := cf.partitions[string(m.Key.Key)]
	if !ok {
		p = &memPartition{cells: make(map[string]CellValue)}
		cf.partitions[string(m.Key.Key)] = p
	}

	for _, cell := range m.Partition.Cells {
		if int(cell.Column) >= len(cf.schema.Mapping.Columns) {
			return errors.ApplyFailed(fmt.Sprintf("cell references column %d outside schema of %d columns",
				cell.Column, len(cf.schema.Mapping.Columns)), nil)
		}
		name := cf.schema.Mapping.Columns[cell.Column].Name

		existing, ok := p.cells[name]
		if ok {
			if existing.Timestamp > cell.Timestamp {
				continue
			}
			if existing.Timestamp == cell.Timestamp && bytes.Compare(existing.Value, cell.Value) >= 0 {
				continue
			}
		}
		p.cells[name] = CellValue{Timestamp: cell.Timestamp, Value: append([]byte(nil), cell.Value...)}
	}

	return nil
}

// Get returns the stored value of one column of one partition.
func (cf *MemColumnFamily) Get(key []byte, column string) (CellValue, bool) {
	p, ok := cf.partitions[string(key)]
	if !ok {
		return CellValue{}, false
	}
	v, ok := p.cells[column]
	return v, ok
}

// PartitionCount returns the number of live partitions in the instance.
func (cf *MemColumnFamily) PartitionCount() int {
	return len(cf.partitions)
}

// Dump deep-copies the instance's state, keyed by partition key then column
// name. Used to compare table state across replay runs.
func (cf *MemColumnFamily) Dump() map[string]map[string]CellValue {
	out := make(map[string]map[string]CellValue, len(cf.partitions))
	for key, p := range cf.partitions {
		cells := make(map[string]CellValue, len(p.cells))
		for name, v := range p.cells {
			cells[name] = CellValue{Timestamp: v.Timestamp, Value: append([]byte(nil), v.Value...)}
		}
		out[key] = cells
	}
	return out
}

// MemSSTable is on-disk-table metadata held in memory.
type MemSSTable struct {
	filename string
	meta     model.StatsMetadata
	metaErr  error
}

// NewMemSSTable creates metadata recording the given replay position.
func NewMemSSTable(filename string, position model.ReplayPosition) *MemSSTable {
	return &MemSSTable{
		filename: filename,
		meta:     model.StatsMetadata{Position: position},
	}
}

// FailMetadata makes StatsMetadata return err, standing in for an unreadable
// metadata component.
func (t *MemSSTable) FailMetadata(err error) *MemSSTable {
	t.metaErr = err
	return t
}

func (t *MemSSTable) Filename() string {
	return t.filename
}

func (t *MemSSTable) StatsMetadata() (model.StatsMetadata, error) {
	if t.metaErr != nil {
		return model.StatsMetadata{}, t.metaErr
	}
	return t.meta, nil
}
