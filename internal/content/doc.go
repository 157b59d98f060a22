// Package content defines the stored unit of the service (Entry), the
// asynchronous result handle shared between the cache and the storage layer
// (Future), and the versioned binary layout used to persist entries on disk.
//
// Entries are immutable values. An update produces a new Entry through
// WithUpdate; callers swap references rather than mutating shared state, so a
// reader always observes a consistent snapshot of payload and metadata.
package content
