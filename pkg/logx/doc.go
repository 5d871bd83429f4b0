// Package logx wraps zerolog behind a small structured-logging API.
//
// It provides:
//   - a Logger value type that is safe to copy and whose zero value is a no-op,
//   - Field helpers (String, Int, Err, ...) applied at the call site,
//   - a Service that owns the sinks (console, file, Telegram operator alerts)
//     and can swap them at runtime via Apply() on config reload.
//
// Loggers created from a Service stay "live": they always write through the
// Service's current root, so a reload changes levels/sinks for the whole
// process without re-plumbing loggers.
package logx
