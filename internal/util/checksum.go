package util

import (
	"encoding/binary"
	"hash/crc32"
)

// Checksum utilities for commit log frame integrity.
// Uses CRC32 (IEEE polynomial) for fast checksum computation.

var (
	// crc32Table is precomputed for better performance
	crc32Table = crc32.MakeTable(crc32.IEEE)
)

// ComputeChecksum computes a CRC32 checksum for the given data.
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ChecksumUint32 computes the CRC32 checksum of a little-endian encoded
// uint32. Used to protect frame length fields independently of the payload.
func ChecksumUint32(v uint32) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return ComputeChecksum(buf[:])
}

// ValidateChecksum validates data against an expected checksum.
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}
