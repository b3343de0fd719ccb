// Package drain moves retired log buffers from a controller.Controller to
// the host.
//
// A [Task] runs one state machine:
//
//	WaitConnection -> Draining -> (disconnect) -> WaitConnection
//
// While waiting, the controller gate is closed and producer writes are
// ignored. Once the transport reports a host, the gate opens and the task
// polls the controller: a retired buffer is chunked into packets no larger
// than the transport's maximum packet size and sent in order. When nothing
// is retired the task sleeps for the backoff interval.
//
// Error policy:
//
//   - A disconnect (pkg.ErrEndpointDisabled and the other errors matched by
//     pkg.IsDisconnect) closes the gate, which discards both buffers, and
//     returns to waiting.
//   - pkg.ErrPacketTooLarge can only mean the chunking is wrong. The task
//     panics.
//   - Anything else is counted and logged, rate limited. The buffer that
//     failed is discarded, not retried.
//
// Cancellation is observed at the blocking points only: the connection
// wait, each packet send and the backoff sleep.
package drain
