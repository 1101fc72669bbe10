// Package server hosts the archive server that the HTTP cache backend talks
// to, plus the shared outbound http.Client used by that backend.
//
// The server stores one gzip'd tar per cache key under a flat directory and
// exposes GET/HEAD/PUT on `/<key>.tar.gz`. Writes are first-writer-wins and
// may be gated on a `?key=` write token. Everything under `/-/` is reserved
// for diagnostics.
package server
