package model

import (
	"time"

	"github.com/google/uuid"
)

// TableID is the 128-bit identifier of a column family. Stable across
// restarts.
type TableID uuid.UUID

func (t TableID) String() string { return uuid.UUID(t).String() }

// MarshalText implements encoding.TextMarshaler so table ids serialize as
// canonical UUID strings inside commit log entries.
func (t TableID) MarshalText() ([]byte, error) { return uuid.UUID(t).MarshalText() }

func (t *TableID) UnmarshalText(b []byte) error { return (*uuid.UUID)(t).UnmarshalText(b) }

// SchemaVersion identifies one historical schema of a table. Versions are
// opaque: two versions are either equal or unrelated.
type SchemaVersion uuid.UUID

func (v SchemaVersion) String() string { return uuid.UUID(v).String() }

func (v SchemaVersion) MarshalText() ([]byte, error) { return uuid.UUID(v).MarshalText() }

func (v *SchemaVersion) UnmarshalText(b []byte) error { return (*uuid.UUID)(v).UnmarshalText(b) }

// ColumnKind distinguishes how a column participates in a row.
type ColumnKind string

const (
	ColumnKindRegular    ColumnKind = "regular"
	ColumnKindClustering ColumnKind = "clustering"
	ColumnKindStatic     ColumnKind = "static"
)

// Column describes one column of a schema version.
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// ColumnMapping declares how the columns of one schema version line up.
// Cells written under a schema reference columns by index into its mapping,
// so the mapping is what makes a frozen partition interpretable after the
// schema has moved on. It is a pure value.
type ColumnMapping struct {
	Columns []Column `json:"columns"`
}

// IndexOf returns the index of the named column, or -1.
func (m ColumnMapping) IndexOf(name string) int {
	for i, c := range m.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Schema is the live shape of a table: a version plus the column mapping
// describing it.
type Schema struct {
	Version SchemaVersion `json:"version"`
	Mapping ColumnMapping `json:"mapping"`
}

// DecoratedKey is a partition key together with the routing token that
// determines its owning shard.
type DecoratedKey struct {
	Token uint64 `json:"token"`
	Key   []byte `json:"key"`
}

// Cell is one column value of a partition mutation. Column indexes into the
// column mapping of the schema version the mutation was written under.
type Cell struct {
	Column    uint32 `json:"column"`
	Timestamp int64  `json:"timestamp"`
	Value     []byte `json:"value"`
}

// Partition is the opaque mutation body for one partition: a flat set of
// cells. Merge semantics are last-write-wins per column, so applying the same
// partition twice is idempotent.
type Partition struct {
	Cells []Cell `json:"cells"`
}

// FrozenMutation is a serialized, schema-stamped write for one partition of
// one table. Immutable once decoded.
type FrozenMutation struct {
	TableID       TableID       `json:"table_id"`
	SchemaVersion SchemaVersion `json:"schema_version"`
	Key           DecoratedKey  `json:"key"`
	Partition     Partition     `json:"partition"`
}

// CommitLogEntry is the payload of one framed commit log record: a frozen
// mutation plus, when the writer could not assume the reader knows the
// version, the column mapping it was written under.
type CommitLogEntry struct {
	Mutation FrozenMutation `json:"mutation"`
	Mapping  *ColumnMapping `json:"mapping,omitempty"`
}

// StatsMetadata is the slice of on-disk-table metadata the replayer consumes:
// the greatest replay position whose effects the table covers. The remaining
// fields ride along from the flush that produced the file.
type StatsMetadata struct {
	Position      ReplayPosition
	MinTimestamp  int64
	MaxTimestamp  int64
	EstimatedRows int64
	FlushedAt     time.Time
}
