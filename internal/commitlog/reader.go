package commitlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tesseradb/tessera/storage-node/internal/model"
	"github.com/tesseradb/tessera/storage-node/internal/util"
)

// Segment frame layout, little-endian:
//
//	[u32 payload length][u32 crc(length)][payload][u32 crc(payload)]
//
// The length field carries its own checksum so a corrupted payload does not
// take the rest of the segment with it: a payload checksum mismatch skips one
// frame, a length checksum mismatch ends the scan. A zero length marks the
// pre-allocated tail of the segment.
const frameHeaderSize = 8

// SegmentDataCorruptionError reports that one or more frames of a segment
// failed checksum or framing validation. Bytes is the total count of bytes
// that could not be replayed. Entries before and after the corrupt region
// were still delivered where framing allowed.
type SegmentDataCorruptionError struct {
	Segment string
	Bytes   uint64
}

func (e *SegmentDataCorruptionError) Error() string {
	return fmt.Sprintf("segment %s: %d corrupt bytes", e.Segment, e.Bytes)
}

// EntryFunc receives one well-framed entry payload and the replay position of
// the frame it was read from. Returning an error aborts the scan.
type EntryFunc func(payload []byte, pos model.ReplayPosition) error

// ReadSegment streams framed entries from the segment file at path, in file
// order, starting at startOffset. Checksum and framing failures accumulate
// into a SegmentDataCorruptionError returned after the scan; any other I/O
// error propagates unchanged.
func ReadSegment(path string, startOffset uint64, onEntry EntryFunc) error {
	d, err := ParseDescriptor(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat segment: %w", err)
	}
	size := uint64(info.Size())

	if startOffset > 0 {
		if _, err := f.Seek(int64(startOffset), io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to offset %d: %w", startOffset, err)
		}
	}

	r := bufio.NewReader(f)
	offset := startOffset
	var corruptBytes uint64

	for offset < size {
		frameStart := offset

		var header [frameHeaderSize]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// Torn header at the tail. Nothing past it is framable.
				corruptBytes += size - frameStart
				break
			}
			return fmt.Errorf("failed to read frame header: %w", err)
		}
		offset += frameHeaderSize

		length := binary.LittleEndian.Uint32(header[0:4])
		lengthCRC := binary.LittleEndian.Uint32(header[4:8])

		if length == 0 {
			// Zeroed tail: the segment ends here.
			break
		}
		if util.ChecksumUint32(length) != lengthCRC {
			// Framing is lost; the remainder of the file cannot be walked.
			corruptBytes += size - frameStart
			break
		}
		if uint64(length)+4 > size-offset {
			corruptBytes += size - frameStart
			break
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("failed to read frame payload: %w", err)
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return fmt.Errorf("failed to read frame checksum: %w", err)
		}
		offset += uint64(length) + 4

		if !util.ValidateChecksum(payload, binary.LittleEndian.Uint32(crcBuf[:])) {
			// Only this frame is lost; the length field was intact so the
			// scan continues at the next frame.
			corruptBytes += offset - frameStart
			continue
		}

		pos := model.ReplayPosition{
			ShardID:   d.ShardID,
			SegmentID: d.SegmentID,
			Offset:    frameStart,
		}
		if err := onEntry(payload, pos); err != nil {
			return err
		}
	}

	if corruptBytes > 0 {
		return &SegmentDataCorruptionError{Segment: d.String(), Bytes: corruptBytes}
	}
	return nil
}
