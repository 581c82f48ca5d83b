// Package realtime implements the job-progress notification core using the actor pattern.
//
// A single hub goroutine owns the connection registry and the subscription index,
// fed by a command channel (no mutexes). Per-connection write goroutines with bounded
// outbound queues keep a slow socket from ever stalling the hub loop. The hub also runs
// the handshake gate (out-of-band token, bounded grace timer), the liveness monitor and
// the cleanup sweeper on injected clockwork tickers.
package realtime
