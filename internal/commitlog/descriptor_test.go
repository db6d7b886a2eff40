package commitlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseradb/tessera/storage-node/internal/model"
)

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor(filepath.Join("/var/lib/tessera/commitlog", "commitlog-3-17.log"))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), d.ShardID)
	assert.Equal(t, uint64(17), d.SegmentID)

	pos := d.Position()
	assert.Equal(t, model.ReplayPosition{ShardID: 3, SegmentID: 17, Offset: 0}, pos)
}

func TestParseDescriptorRoundTrip(t *testing.T) {
	name := SegmentFileName(12, 99)
	assert.Equal(t, "commitlog-12-99.log", name)

	d, err := ParseDescriptor(name)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), d.ShardID)
	assert.Equal(t, uint64(99), d.SegmentID)
	assert.Equal(t, name, d.String())
}

func TestParseDescriptorRejectsMalformedNames(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"wrong prefix", "segment-0-1.log"},
		{"wrong extension", "commitlog-0-1.dat"},
		{"missing segment id", "commitlog-5.log"},
		{"non-numeric shard", "commitlog-x-1.log"},
		{"non-numeric segment", "commitlog-1-y.log"},
		{"empty core", "commitlog-.log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptor(tt.path)
			assert.Error(t, err)
		})
	}
}
