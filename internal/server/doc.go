// Package server hosts the Fiber HTTP service and its middleware chain.
// NewApp installs panic recovery, request ids, CORS and the index page, then
// mounts the content routes and the diagnostics routes supplied by the
// caller. Dependencies are passed in explicitly so tests can substitute them.
package server
