/*
Package blockbridge runs blocking, resource-bound work off the caller's
goroutine and hands back a future.

A host event loop (pkg/loop) must never block, yet most database drivers and
client libraries do. blockbridge checks a resource (a *sql.Conn, a
*redis.Conn, anything pooled) out on a worker goroutine, runs a closure
against it, releases it on every exit path, and resolves a Future with the
value or a classified error.

Bridge (pkg/bridge):
  - Handle: shared, reference-counted worker pool
  - RunBlocking / Go: offload a closure, get a Future
  - Future: Await, Cancel, Then (continue on the host loop)
  - Error: ResourceAcquisitionFailed, OperationFailed, WorkerPanicked, Cancelled

Resources (pkg/resource):
  - static: fixed in-memory set with a bounded wait
  - sqlpool: database/sql connections
  - redispool: go-redis connections

Database helpers (pkg/dbasync):
  - Run, Transaction, BatchExecute, Exec, Load, First, Optional, All

Scheduling (pkg/scheduling):
  - workerpool: fixed worker pool with panic recovery and forced shutdown
  - dispatch: bounded or unbounded MPMC queue with backpressure
  - reporter: cron-driven stats logging and gauge refresh

Example usage:

	import (
		"github.com/vnykmshr/blockbridge/pkg/bridge"
		"github.com/vnykmshr/blockbridge/pkg/dbasync"
		"github.com/vnykmshr/blockbridge/pkg/resource/sqlpool"
	)

	h, _ := bridge.NewHandle(bridge.DefaultConfig())
	defer h.Close(ctx)

	conns, _ := sqlpool.Open(sqlpool.DefaultConfig())
	defer conns.Close()

	n, err := dbasync.Exec(ctx, h, conns, dbasync.Q("DELETE FROM sessions WHERE expires_at < now()")).Await(ctx)
*/
package blockbridge
