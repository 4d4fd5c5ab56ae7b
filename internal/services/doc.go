// Package services defines shared utilities consumed by the sweep pipeline
// stages and the index clients.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and collection patterns
//     for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     (context load, query failure, malformed record) for exit messages and
//     run history.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability) stays uniform across the pipeline.
package services
