package commitlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/tesseradb/tessera/storage-node/internal/model"
	"github.com/tesseradb/tessera/storage-node/internal/util"
)

// SegmentWriter appends framed entries to one commit log segment file. The
// full writer (rotation, sync scheduling, back-pressure) lives with the write
// path; this is the framing producer the replay tooling and tests use.
type SegmentWriter struct {
	descriptor Descriptor
	file       *os.File
	offset     uint64
	syncWrites bool
	logger     *zap.Logger
	mu         sync.Mutex
}

// OpenSegmentWriter creates (or truncates) the segment file for the given
// shard and segment id under dir.
func OpenSegmentWriter(dir string, shardID uint32, segmentID uint64, syncWrites bool, logger *zap.Logger) (*SegmentWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create commit log directory: %w", err)
	}

	path := filepath.Join(dir, SegmentFileName(shardID, segmentID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open commit log segment: %w", err)
	}

	logger.Info("Opened commit log segment",
		zap.String("path", path),
		zap.Uint32("shard_id", shardID),
		zap.Uint64("segment_id", segmentID))

	return &SegmentWriter{
		descriptor: Descriptor{ShardID: shardID, SegmentID: segmentID, Path: path},
		file:       file,
		syncWrites: syncWrites,
		logger:     logger,
	}, nil
}

// Descriptor returns the descriptor of the segment being written.
func (w *SegmentWriter) Descriptor() Descriptor {
	return w.descriptor
}

// Append serializes the entry and writes one frame. It returns the replay
// position of the frame that was written.
func (w *SegmentWriter) Append(entry *model.CommitLogEntry) (model.ReplayPosition, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return model.ReplayPosition{}, fmt.Errorf("failed to marshal entry: %w", err)
	}
	return w.AppendPayload(payload)
}

// AppendPayload writes one frame around an already serialized payload.
func (w *SegmentWriter) AppendPayload(payload []byte) (model.ReplayPosition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos := model.ReplayPosition{
		ShardID:   w.descriptor.ShardID,
		SegmentID: w.descriptor.SegmentID,
		Offset:    w.offset,
	}

	frame := make([]byte, frameHeaderSize+len(payload)+4)
	length := uint32(len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], length)
	binary.LittleEndian.PutUint32(frame[4:8], util.ChecksumUint32(length))
	copy(frame[frameHeaderSize:], payload)
	binary.LittleEndian.PutUint32(frame[frameHeaderSize+len(payload):], util.ComputeChecksum(payload))

	if _, err := w.file.Write(frame); err != nil {
		return model.ReplayPosition{}, fmt.Errorf("failed to write to commit log: %w", err)
	}
	w.offset += uint64(len(frame))

	if w.syncWrites {
		if err := w.file.Sync(); err != nil {
			return model.ReplayPosition{}, fmt.Errorf("failed to sync commit log: %w", err)
		}
	}

	return pos, nil
}

// Size returns the number of bytes written so far.
func (w *SegmentWriter) Size() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Close syncs and closes the segment file.
func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to sync commit log: %w", err)
	}
	return w.file.Close()
}
