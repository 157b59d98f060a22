// Package cache implements the in-memory content cache that fronts the
// storage handler.
//
// Lookups return a *content.Future. A miss installs a pending future and
// schedules exactly one load on the worker pool, so concurrent readers of the
// same key share one disk read and one resulting Entry. Put installs a future
// produced elsewhere (the write path) so a freshly created entry is served
// without touching disk.
//
// Resident entries are weighed by payload length. When the total weight
// exceeds the configured budget the least recently accessed entries are
// dropped. An entry not accessed within the idle TTL is dropped on its next
// lookup or by CleanUp. Failed or empty loads are never retained.
package cache
