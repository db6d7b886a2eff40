package model

import "fmt"

// ReplayPosition identifies a byte position within the commit log of one
// shard. Positions are ordered lexicographically on (SegmentID, Offset);
// ShardID is a grouping key only and never participates in ordering. Callers
// must pre-group positions by shard before comparing.
type ReplayPosition struct {
	ShardID   uint32
	SegmentID uint64
	Offset    uint64
}

// IsZero reports whether the position is the least element, meaning nothing
// was ever flushed for the shard/table it describes.
func (p ReplayPosition) IsZero() bool {
	return p.SegmentID == 0 && p.Offset == 0
}

// Less reports whether p orders strictly before o within the same shard.
func (p ReplayPosition) Less(o ReplayPosition) bool {
	if p.SegmentID != o.SegmentID {
		return p.SegmentID < o.SegmentID
	}
	return p.Offset < o.Offset
}

// LessEq reports whether p orders before or equal to o within the same shard.
func (p ReplayPosition) LessEq(o ReplayPosition) bool {
	return !o.Less(p)
}

// Max returns the greater of p and o within the same shard.
func (p ReplayPosition) Max(o ReplayPosition) ReplayPosition {
	if p.Less(o) {
		return o
	}
	return p
}

func (p ReplayPosition) String() string {
	return fmt.Sprintf("%d/%d:%d", p.ShardID, p.SegmentID, p.Offset)
}
