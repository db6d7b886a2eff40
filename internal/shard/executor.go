package shard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed on one shard
type Task struct {
	ID string
	Fn func(context.Context) error
}

// ExecutorPool runs a fixed set of shard executors, one single-threaded task
// loop per shard. Parallelism across shards is real; within a shard, tasks
// run one at a time in submission order. Cross-shard work moves by submitting
// a task to the owning shard's executor, never by sharing mutable state.
type ExecutorPool struct {
	executors      []*executor
	logger         *zap.Logger
	wg             sync.WaitGroup
	stopOnce       sync.Once
	stopChan       chan struct{}
	totalTasks     uint64
	completedTasks uint64
	failedTasks    uint64
	rejectedTasks  uint64
}

type executor struct {
	id        uint32
	taskQueue chan Task
}

// executorCtxKey carries the executor a task is running on through its
// context, so Invoke can tell when it is called from inside the pool.
type executorCtxKey struct{}

func currentExecutor(ctx context.Context) *executor {
	ex, _ := ctx.Value(executorCtxKey{}).(*executor)
	return ex
}

// Config holds executor pool configuration
type Config struct {
	ShardCount int
	QueueSize  int
	Logger     *zap.Logger
}

// NewExecutorPool starts ShardCount executors.
func NewExecutorPool(cfg *Config) *ExecutorPool {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool := &ExecutorPool{
		executors: make([]*executor, cfg.ShardCount),
		logger:    cfg.Logger,
		stopChan:  make(chan struct{}),
	}

	for i := range pool.executors {
		ex := &executor{
			id:        uint32(i),
			taskQueue: make(chan Task, cfg.QueueSize),
		}
		pool.executors[i] = ex
		pool.wg.Add(1)
		go pool.run(ex)
	}

	pool.logger.Info("Shard executor pool started",
		zap.Int("shards", cfg.ShardCount),
		zap.Int("queue_size", cfg.QueueSize))

	return pool
}

// Count returns the number of shard executors.
func (p *ExecutorPool) Count() int {
	return len(p.executors)
}

// run is the main loop of one shard executor
func (p *ExecutorPool) run(ex *executor) {
	defer p.wg.Done()

	p.logger.Debug("Shard executor started", zap.Uint32("shard", ex.id))

	ctx := context.WithValue(context.Background(), executorCtxKey{}, ex)

	for {
		select {
		case <-p.stopChan:
			p.logger.Debug("Shard executor stopping", zap.Uint32("shard", ex.id))
			return
		case task := <-ex.taskQueue:
			p.executeTask(ctx, ex, task)
		}
	}
}

// executeTask executes a single task with panic recovery
func (p *ExecutorPool) executeTask(ctx context.Context, ex *executor, task Task) {
	start := time.Now()
	err := p.safeExecute(ctx, task)
	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Debug("Shard task failed",
			zap.Uint32("shard", ex.id),
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		atomic.AddUint64(&p.completedTasks, 1)
	}
}

func (p *ExecutorPool) safeExecute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Shard task panic recovered",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()
	return task.Fn(ctx)
}

// Submit enqueues a task on the given shard's executor without waiting for
// it to run. Blocks while the shard's queue is full.
func (p *ExecutorPool) Submit(shardID uint32, task Task) error {
	if int(shardID) >= len(p.executors) {
		return fmt.Errorf("shard %d out of range (pool has %d shards)", shardID, len(p.executors))
	}

	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("executor pool is stopped")
	default:
	}

	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("executor pool is stopped")
	case p.executors[shardID].taskQueue <- task:
		atomic.AddUint64(&p.totalTasks, 1)
		return nil
	}
}

// Invoke runs fn on the given shard's executor and waits for it to finish,
// returning fn's error. Called from inside a pool task (the task's context
// must be passed through), invoking the task's own shard runs fn inline, and
// invoking another shard keeps servicing the calling shard's queue while it
// waits, so two shards can invoke each other without deadlocking.
func (p *ExecutorPool) Invoke(ctx context.Context, shardID uint32, fn func(context.Context) error) error {
	if int(shardID) >= len(p.executors) {
		return fmt.Errorf("shard %d out of range (pool has %d shards)", shardID, len(p.executors))
	}

	self := currentExecutor(ctx)
	if self != nil && self.id == shardID {
		return fn(ctx)
	}

	done := make(chan error, 1)
	task := Task{
		ID: fmt.Sprintf("invoke-%d", shardID),
		Fn: func(taskCtx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("invoked task panicked: %v", r)
				}
				done <- err
			}()
			return fn(taskCtx)
		},
	}

	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("executor pool is stopped")
	default:
	}

	target := p.executors[shardID].taskQueue
	for enqueued := false; !enqueued; {
		if self != nil {
			select {
			case <-p.stopChan:
				atomic.AddUint64(&p.rejectedTasks, 1)
				return fmt.Errorf("executor pool is stopped")
			case <-ctx.Done():
				return ctx.Err()
			case pending := <-self.taskQueue:
				p.executeTask(ctx, self, pending)
			case target <- task:
				atomic.AddUint64(&p.totalTasks, 1)
				enqueued = true
			}
		} else {
			select {
			case <-p.stopChan:
				atomic.AddUint64(&p.rejectedTasks, 1)
				return fmt.Errorf("executor pool is stopped")
			case <-ctx.Done():
				return ctx.Err()
			case target <- task:
				atomic.AddUint64(&p.totalTasks, 1)
				enqueued = true
			}
		}
	}

	for {
		if self != nil {
			select {
			case err := <-done:
				return err
			case pending := <-self.taskQueue:
				p.executeTask(ctx, self, pending)
			case <-ctx.Done():
				return ctx.Err()
			case <-p.stopChan:
				return fmt.Errorf("executor pool is stopped")
			}
		} else {
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			case <-p.stopChan:
				return fmt.Errorf("executor pool is stopped")
			}
		}
	}
}

// Stop shuts the pool down, waiting up to timeout for in-flight tasks.
func (p *ExecutorPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping shard executor pool")
		close(p.stopChan)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Shard executor pool stopped")
		case <-time.After(timeout):
			err = fmt.Errorf("executor pool stop timeout after %v", timeout)
			p.logger.Warn("Shard executor pool stop timeout")
		}
	})
	return err
}

// Stats returns current pool counters.
func (p *ExecutorPool) Stats() Stats {
	return Stats{
		Shards:         len(p.executors),
		TotalTasks:     atomic.LoadUint64(&p.totalTasks),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
		RejectedTasks:  atomic.LoadUint64(&p.rejectedTasks),
	}
}

// Stats represents executor pool statistics
type Stats struct {
	Shards         int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}
