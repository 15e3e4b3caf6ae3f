// Package entity holds the domain records shared across the pipeline:
// transaction change events read from the change feed, profile/task
// snapshots read from the entity store, and the notification records
// produced by the recorder.
//
// Everything here is plain data. Snapshots sourced externally are never
// mutated by this codebase; validation happens once, at the boundary
// where a value enters the pipeline.
package entity
