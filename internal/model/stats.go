package model

// ReplayStats counts the outcome of every entry seen during commit log
// replay. Addition is commutative, so per-shard totals fold into a global
// total in any order.
type ReplayStats struct {
	AppliedMutations uint64
	SkippedMutations uint64
	InvalidMutations uint64
	CorruptBytes     uint64
}

// Add folds o into s.
func (s *ReplayStats) Add(o ReplayStats) {
	s.AppliedMutations += o.AppliedMutations
	s.SkippedMutations += o.SkippedMutations
	s.InvalidMutations += o.InvalidMutations
	s.CorruptBytes += o.CorruptBytes
}

// Entries returns the number of well-framed entries accounted for. Corrupt
// bytes are tracked separately and do not contribute.
func (s ReplayStats) Entries() uint64 {
	return s.AppliedMutations + s.SkippedMutations + s.InvalidMutations
}
