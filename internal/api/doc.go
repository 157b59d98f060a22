// Package api implements the three content endpoints on top of the cache,
// the storage handler and the rate limiters:
//
//	POST /post  create an entry and return its key
//	GET  /:key  read an entry, gzip-encoded when the client accepts it
//	PUT  /:key  replace a modifiable entry given its Modification-Key
//
// Handlers never touch the disk directly. Reads wait on the cache future;
// writes publish into the cache and leave persistence to the worker pool.
package api
