// Package logx configures relaybot's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable (short timestamp and caller)
//   - file output stays JSON-structured
//   - WARN+ lines can be mirrored into a Telegram chat, rate limited
package logx
