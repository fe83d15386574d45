package coordinator

import (
	"context"

	"github.com/dreamware/shardmeta/internal/meta"
)

// Create, Get, Put and Delete are blocking forms of the callback API for
// callers outside the executor, such as HTTP handlers. They must not be
// called from a callback, which would deadlock the executor.

func (c *Coordinator) Create(ctx context.Context, m *meta.ShardMeta) (Result, error) {
	return wait(ctx, func(cb Callback) { c.CreateShardMeta(m, cb) })
}

func (c *Coordinator) Get(ctx context.Context, shardID uint64, hint meta.RoutingHint) (Result, error) {
	return wait(ctx, func(cb Callback) { c.GetShardMeta(shardID, hint, cb) })
}

func (c *Coordinator) Put(ctx context.Context, m *meta.ShardMeta) (Result, error) {
	return wait(ctx, func(cb Callback) { c.PutShardMeta(m, cb) })
}

func (c *Coordinator) Delete(ctx context.Context, m *meta.ShardMeta) (Result, error) {
	return wait(ctx, func(cb Callback) { c.DeleteShardMeta(m, cb) })
}

// Stop shuts the coordinator down and waits for it to unwind.
func (c *Coordinator) Stop(ctx context.Context) error {
	done := make(chan struct{})
	c.Shutdown(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wait(ctx context.Context, start func(Callback)) (Result, error) {
	ch := make(chan Result, 1)
	start(func(res Result) { ch <- res })
	select {
	case res := <-ch:
		return res, res.Status.Err()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
