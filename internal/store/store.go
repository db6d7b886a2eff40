package store

import (
	"github.com/tesseradb/tessera/storage-node/internal/model"
)

// Database is the handle the replayer holds on the live sharded database.
// Column families are shard-local: each shard owns its own instance of every
// table, and a table instance must only be mutated from its shard's executor.
type Database interface {
	// ShardCount is the number of shards the database currently runs.
	ShardCount() int

	// ShardOf returns the shard owning the partition key.
	ShardOf(key model.DecoratedKey) uint32

	// TableIDs lists every column family known to the live database.
	TableIDs() []model.TableID

	// ColumnFamilies enumerates the column family instances of one shard.
	// An error here means the database cannot be traversed at all.
	ColumnFamilies(shardID uint32) (map[model.TableID]ColumnFamily, error)

	// FindColumnFamily looks up one shard's instance of a table. ok is
	// false when the table no longer exists.
	FindColumnFamily(shardID uint32, id model.TableID) (ColumnFamily, bool)
}

// ColumnFamily is one shard's instance of a table.
type ColumnFamily interface {
	ID() model.TableID

	// Schema returns the current live schema of the table.
	Schema() model.Schema

	// SSTables lists the on-disk sorted tables flushed for this instance.
	SSTables() []SSTable

	// Apply merges a mutation into the live instance. The mutation must be
	// stamped with the live schema version.
	Apply(m model.FrozenMutation) error
}

// SSTable exposes the metadata slice of one on-disk sorted table that the
// replayer consumes.
type SSTable interface {
	Filename() string
	StatsMetadata() (model.StatsMetadata, error)
}

// TruncationStore is the read interface over the system keyspace's
// truncation records.
type TruncationStore interface {
	// TruncatedPositions returns every recorded truncation marker for a
	// table, across all shards that recorded one.
	TruncatedPositions(id model.TableID) ([]model.ReplayPosition, error)
}
