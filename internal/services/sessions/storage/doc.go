// Package storage defines the session persistence contract.
//
// A session record is an opaque payload keyed by session id, stamped by the
// store with its last write time, and optionally tagged with the principal
// that owns it. Backends live in subpackages (sqlite, redis) and share the
// behavioral suite in storagetest.
package storage
