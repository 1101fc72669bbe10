// Package cache defines the build-artifact cache contract and its backends.
//
// An orchestrator calls Fetch before building: on a hit the target directory is
// populated from the cache and the build can be skipped. After a successful
// build it calls Put so later fetches for the same key hit. A miss is reported
// as data, never as an error, and never creates the target.
//
// Backends:
//   - DirectoryCacher stores entries under a local root, guarded by a per-key
//     flock and a completion marker written after the content.
//   - HTTPCacher stores gzip tar archives on a remote server via GET/PUT.
//   - NoCacher always misses and discards stores.
//
// Backends are registered by key ("directory", "http", "none") so callers can
// select one from configuration without changing call sites.
package cache
