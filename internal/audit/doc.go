// Package audit implements async dispatch of audit records for privileged
// actions.
//
// # Components
//
//   - [Record]: append-only entry naming actor, action, resource and source.
//   - [Sink]: record consumer ([StoreSink], [LogSink], [MultiSink], [NoOpSink]).
//   - [Dispatcher]: buffered relay with drop-if-full or block-with-context semantics.
//
// # Architecture boundaries
//
// This package owns buffering and sink delivery. It does NOT decide which
// actions are audited; the Engine does.
//
// # What this package must NOT do
//
//   - Return sink failures to the caller of Emit.
//   - Import packguard or any sibling internal package.
package audit
