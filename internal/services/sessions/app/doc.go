// Package server composes the session store, its HTTP surface and the expiry
// sweeper into one process.
package server
