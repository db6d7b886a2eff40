package commitlog

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tesseradb/tessera/storage-node/internal/model"
)

const (
	segmentPrefix    = "commitlog-"
	segmentExtension = ".log"
)

// Descriptor identifies one commit log segment file. The file name encodes
// the shard that wrote the segment and the segment id:
// commitlog-<shard>-<segment>.log
type Descriptor struct {
	ShardID   uint32
	SegmentID uint64
	Path      string
}

// ParseDescriptor parses a segment file path into a Descriptor.
func ParseDescriptor(path string) (Descriptor, error) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentExtension) {
		return Descriptor{}, fmt.Errorf("not a commit log segment name: %q", name)
	}

	core := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentExtension)
	parts := strings.SplitN(core, "-", 2)
	if len(parts) != 2 {
		return Descriptor{}, fmt.Errorf("malformed segment name %q: want commitlog-<shard>-<segment>.log", name)
	}

	shard, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Descriptor{}, fmt.Errorf("malformed shard id in segment name %q: %w", name, err)
	}
	segment, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Descriptor{}, fmt.Errorf("malformed segment id in segment name %q: %w", name, err)
	}

	return Descriptor{
		ShardID:   uint32(shard),
		SegmentID: segment,
		Path:      path,
	}, nil
}

// SegmentFileName returns the canonical file name for a (shard, segment)
// pair.
func SegmentFileName(shardID uint32, segmentID uint64) string {
	return fmt.Sprintf("%s%d-%d%s", segmentPrefix, shardID, segmentID, segmentExtension)
}

// Position derives the replay position of the start of the segment.
func (d Descriptor) Position() model.ReplayPosition {
	return model.ReplayPosition{
		ShardID:   d.ShardID,
		SegmentID: d.SegmentID,
		Offset:    0,
	}
}

func (d Descriptor) String() string {
	return SegmentFileName(d.ShardID, d.SegmentID)
}
