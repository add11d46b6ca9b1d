// Package logger wraps zap for the installer binaries:
//   - a global sugared logger writing console-encoded lines to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag and the config file,
//   - leveled shortcuts (Infof, ErrorKV, ...).
//
// Stdout is left to the commands themselves (checksums, version output), so
// logs never mix with machine-readable results.
package logger
