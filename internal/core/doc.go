// Package core is the ingestion engine: it loads one delimited file into one
// relational table.
//
// The package holds no UI or transport code. The CLI, the HTTP server and
// tests all drive it through [Engine.Run] (or [RunIngestion]) and receive an
// [Outcome] back; no error escapes as a panic.
//
// # Run lifecycle
//
// A run is a strict sequence of stages, each finishing before the next
// starts:
//
//	Idle -> Validating -> ReadingHeader -> Reconciling -> Loading -> Committed
//
// and Failed is reachable from every stage before Committed. Nothing is
// retried; a failure ends the run and is reported verbatim.
//
//  1. Validating: [Validate] opens and closes a connection with the profile.
//  2. ReadingHeader: [ReadHeader] parses the first record of the file.
//     Column names are checked against the identifier allow-list here.
//  3. Reconciling: a transaction is opened and [Reconcile] either creates
//     the table (every column TEXT, header order) or truncates it.
//  4. Loading: [Load] re-opens the file and streams it, header included, to
//     the backend's bulk-copy channel.
//  5. Committed: the transaction commits. Any failure above rolls it back.
//
// # Backends
//
// Storage engines plug in through the [Driver] interface and register
// themselves with [RegisterDriver] from an init function. Import
// internal/database/all to enable every built-in backend.
//
// # Errors
//
// Every failure is an [*Error] carrying an [ErrorKind], the stage it came
// from and the identifier involved. [MapError] turns any error into a
// [UserMessage] with a support code for the CLI and HTTP layers.
package core
