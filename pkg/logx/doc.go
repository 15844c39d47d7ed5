// Package logx configures aquarig's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level and sink changes live across config reloads (Service.Apply)
package logx
