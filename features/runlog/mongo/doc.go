// Package mongo provides a MongoDB-backed run event log.
//
// Build the low-level client with clients/mongo and hand it to NewStore.
// Events of all runs share one collection with a unique (run_id, seq) index;
// inserting an event is what allocates its sequence.
package mongo
