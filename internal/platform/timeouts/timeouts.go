// Package timeouts defines shared timeout constants used across session processes.
// Centralizing these values prevents drift between the server and the CLI and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// PoolWait caps how long a store operation waits for a pooled connection.
const PoolWait = 500 * time.Millisecond

// RedisDial caps the wait time when dialing the Redis backend.
const RedisDial = 2 * time.Second
