package replay

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tesseradb/tessera/storage-node/internal/commitlog"
	"github.com/tesseradb/tessera/storage-node/internal/errors"
	"github.com/tesseradb/tessera/storage-node/internal/metrics"
	"github.com/tesseradb/tessera/storage-node/internal/model"
	"github.com/tesseradb/tessera/storage-node/internal/schema"
	"github.com/tesseradb/tessera/storage-node/internal/shard"
	"github.com/tesseradb/tessera/storage-node/internal/store"
)

// Replayer re-applies commit log segments to the live database at start-up.
// Construction derives the high-water marks once; Recover then replays any
// number of segment files against that immutable snapshot.
type Replayer struct {
	db          store.Database
	truncations store.TruncationStore
	pool        *shard.ExecutorPool
	hwm         *highWaterMarks
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// CreateReplayer builds the per-shard/per-table high-water marks from
// on-disk-table metadata and truncation records and returns a ready
// replayer. The executor pool must run exactly one executor per database
// shard.
func CreateReplayer(
	ctx context.Context,
	db store.Database,
	truncations store.TruncationStore,
	pool *shard.ExecutorPool,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Replayer, error) {
	if pool.Count() != db.ShardCount() {
		return nil, errors.InitFailed("executor pool size does not match database shard count", nil).
			WithDetail("pool", pool.Count()).
			WithDetail("shards", db.ShardCount())
	}

	hwm, err := buildHighWaterMarks(ctx, db, truncations, pool, logger)
	if err != nil {
		return nil, errors.InitFailed("failed to derive replay high-water marks", err)
	}

	return &Replayer{
		db:          db,
		truncations: truncations,
		pool:        pool,
		hwm:         hwm,
		metrics:     m,
		logger:      logger,
	}, nil
}

// Recover replays the given segment files. Files are bucketed onto the
// current shards by the shard id encoded in their names; each shard replays
// its bucket serially to limit mutation congestion, shards run concurrently.
// Per-entry errors and segment corruption are absorbed into the statistics;
// non-corruption I/O errors surface after every shard has finished. A file
// name that does not parse as a segment name fails the call before any
// replay starts.
func (r *Replayer) Recover(ctx context.Context, files []string) error {
	start := time.Now()
	r.logger.Info("Replaying commit log segments", zap.Strings("files", files))

	shardCount := uint32(r.pool.Count())
	buckets := make(map[uint32][]commitlog.Descriptor)
	for _, f := range files {
		d, err := commitlog.ParseDescriptor(f)
		if err != nil {
			return errors.InvalidSegmentName(f, err)
		}
		// Historical shards are remapped round-robin onto the current
		// shard set.
		bucket := d.ShardID % shardCount
		buckets[bucket] = append(buckets[bucket], d)
	}

	// One schema-version cache per shard, alive for the duration of this
	// recovery only.
	caches := make([]*schema.MappingCache, shardCount)
	for i := range caches {
		caches[i] = schema.NewMappingCache()
	}

	var (
		mu     sync.Mutex
		total  model.ReplayStats
		fatals []error
		wg     sync.WaitGroup
	)

	for bucket, descs := range buckets {
		bucket, descs := bucket, descs
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.pool.Invoke(ctx, bucket, func(taskCtx context.Context) error {
				proc := &entryProcessor{
					shardID: bucket,
					db:      r.db,
					pool:    r.pool,
					hwm:     r.hwm,
					caches:  caches,
					logger:  r.logger,
				}
				for _, d := range descs {
					stats, err := r.recoverSegment(taskCtx, proc, d)
					mu.Lock()
					total.Add(stats)
					mu.Unlock()
					if err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				mu.Lock()
				fatals = append(fatals, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if r.metrics != nil {
		r.metrics.RecordStats(total.AppliedMutations, total.SkippedMutations,
			total.InvalidMutations, total.CorruptBytes)
		r.metrics.RecordRecovery(time.Since(start).Seconds())
	}

	r.logger.Info("Log replay complete",
		zap.Uint64("applied", total.AppliedMutations),
		zap.Uint64("invalid", total.InvalidMutations),
		zap.Uint64("skipped", total.SkippedMutations),
		zap.Uint64("corrupt_bytes", total.CorruptBytes))

	return stderrors.Join(fatals...)
}

// RecoverFile replays a single segment file.
func (r *Replayer) RecoverFile(ctx context.Context, file string) error {
	return r.Recover(ctx, []string{file})
}

// recoverSegment replays one segment on the current shard executor,
// returning the statistics of the scan. Corruption is absorbed into the
// statistics; any other error is fatal for this shard's bucket.
func (r *Replayer) recoverSegment(ctx context.Context, proc *entryProcessor, d commitlog.Descriptor) (model.ReplayStats, error) {
	var stats model.ReplayStats

	rp := d.Position()
	gp := r.hwm.shardMin(rp.ShardID)

	if rp.SegmentID < gp.SegmentID {
		r.logger.Debug("Skipping replay of fully-flushed segment",
			zap.String("segment", d.String()))
		if r.metrics != nil {
			r.metrics.RecordSegmentSkipped()
		}
		return stats, nil
	}

	var startOffset uint64
	if rp.SegmentID == gp.SegmentID {
		startOffset = gp.Offset
	}

	r.logger.Debug("Replaying segment",
		zap.String("segment", d.String()),
		zap.Uint64("start_offset", startOffset))

	segStart := time.Now()
	err := commitlog.ReadSegment(d.Path, startOffset, func(payload []byte, pos model.ReplayPosition) error {
		return proc.process(ctx, payload, pos, &stats)
	})

	var corrupt *commitlog.SegmentDataCorruptionError
	if stderrors.As(err, &corrupt) {
		stats.CorruptBytes += corrupt.Bytes
		r.logger.Warn("Corrupted segment",
			zap.String("segment", d.String()),
			zap.Uint64("bytes_skipped", corrupt.Bytes))
	} else if err != nil {
		return stats, err
	}

	if r.metrics != nil {
		r.metrics.RecordSegment(time.Since(segStart).Seconds())
	}

	r.logger.Debug("Segment replay complete",
		zap.String("segment", d.String()),
		zap.Uint64("applied", stats.AppliedMutations),
		zap.Uint64("invalid", stats.InvalidMutations),
		zap.Uint64("skipped", stats.SkippedMutations))

	return stats, nil
}
