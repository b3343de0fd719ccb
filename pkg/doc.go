// Package pkg provides shared utilities for the usblog transport.
//
// This package contains common functionality used by the buffer
// controller, the drain task and the USB device stack:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for transport and contract failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDrain, "host connected", "session", id)
//
// Nothing on the producer write path logs; only the drain task, the
// device stack and the CLI do.
//
// # Errors
//
// Errors are sentinel values compared with [errors.Is]:
//
//	if pkg.IsDisconnect(err) {
//	    // host went away; buffered data is discarded
//	}
package pkg
