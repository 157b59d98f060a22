// Package storage owns the content directory. Every entry lives in a single
// file named after its key and encoded with the content package's binary
// layout. Writes go through a temp file + rename so readers never observe a
// half-written entry, and a per-key lock serializes concurrent writers.
//
// The Handler also implements the cache loader (Load) and the periodic expiry
// sweep (RunInvalidation), which is the only component that deletes files.
package storage
