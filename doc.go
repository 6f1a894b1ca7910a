// Package voicebox provides one uniform speak/stop/callback model over
// heterogeneous speech-synthesis engines.
//
// Engines differ in three ways the package reconciles. Some native layers
// hold only one utterance at a time, so pending utterances are kept in an
// explicit per-session queue and started one after another. Completion
// notifications arrive asynchronously on goroutines the caller does not
// control, so they are correlated back to the owning session through a
// process-wide reverse index of playback handles. And capability sets vary
// wildly, so every optional operation is gated on the Features the engine
// advertises instead of hoping the native layer fails gracefully.
//
// A Speech value is the caller-facing facade, bound to exactly one Engine.
// Concrete engines live in the engines subpackages; engines/mock is fully
// in-memory and drives the package's own tests.
package voicebox
