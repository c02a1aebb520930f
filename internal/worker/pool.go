// Package worker runs conversation-scoped jobs on sharded single
// writer queues. Jobs for the same key land on the same shard and run
// in submission order; different keys spread across shards.
package worker

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of work bound to a key.
type Job func(ctx context.Context)

// Pool distributes jobs across a fixed set of goroutines by key hash.
type Pool struct {
	logger *zap.Logger
	queues []chan Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewPool builds a pool with the given shard count. Queue depth bounds
// how far a producer can run ahead of a slow shard.
func NewPool(shards, depth int, logger *zap.Logger) *Pool {
	if shards < 1 {
		shards = 1
	}
	queues := make([]chan Job, shards)
	for i := range queues {
		queues[i] = make(chan Job, depth)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger: logger,
		queues: queues,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the shard goroutines. Idempotent.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.run(i, q)
	}
	p.logger.Debug("worker pool started", zap.Int("shards", len(p.queues)))
}

func (p *Pool) run(shard int, q chan Job) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-q:
			job(p.ctx)
		}
	}
}

func (p *Pool) shardOf(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % len(p.queues)
}

// Submit queues job on the shard owned by key. Blocks when that shard
// is full; returns false once the pool is stopped.
func (p *Pool) Submit(key string, job Job) bool {
	// A buffered send can win the select against a done context, so a
	// stopped pool must be rejected before the send.
	if p.ctx.Err() != nil {
		return false
	}
	q := p.queues[p.shardOf(key)]
	select {
	case <-p.ctx.Done():
		return false
	case q <- job:
		return true
	}
}

// Stop cancels the pool and waits for in-flight jobs. Queued jobs not
// yet started are discarded.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
