// Package logx configures mycelium's structured logging.
//
// Logger is a small wrapper on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink that forwards warnings to a moderators' log chat
//     (min-level + rate limiting)
package logx
