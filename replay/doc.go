// Package replay drives logged operations into the index table and owns the
// checkpoint that marks how far the log has been applied.
//
// # Write path
//
// Every mutation is journaled first: the catalog appends one log entry
// carrying the operation and the full record, then hands the entry to an
// Applier. The applier fans the entry out into one index entity per indexed
// field, all sharing the record's content row key. Only after every write
// of an entry has landed does the checkpoint advance to that entry's id.
//
// A crash can therefore leave three states behind, all of them recoverable:
//
//  1. Entry logged, nothing applied. Replay re-applies it in full.
//  2. Entry logged, some writes applied. Replay re-applies it; writes that
//     already landed report AlreadyApplied and are not duplicated.
//  3. Entry applied, checkpoint not yet advanced. Replay re-applies it as a
//     no-op and then advances the checkpoint.
//
// # Outcomes
//
// Each write and each entry resolves to an explicit outcome instead of a
// silently swallowed error:
//
//   - Applied: the write changed the table.
//   - AlreadyApplied: an insert found its entity already in place, a
//     replay no-op.
//   - NotPresent: a delete found nothing to remove, equally a no-op.
//   - Failed: the store refused the write. The applier stops at the first
//     failure, leaves the checkpoint where it was, and surfaces an *Error
//     naming the entry. The failed entry is retried on the next replay, so
//     a persistently failing entry blocks the log until the cause is fixed.
//
// # Checkpointing
//
// The checkpoint only moves forward. Replaying from an older position, or
// from the start of the log, re-applies entries without ever writing a
// checkpoint below the current one. One applier instance is the single
// checkpoint writer for its catalog; entries it has fanned out are
// remembered in a bounded cache so that overlapping replays skip them
// without touching the store.
package replay
