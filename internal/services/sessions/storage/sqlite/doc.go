// Package sqlite implements the session store over a SQLite "session" table.
//
// Every operation borrows one pooled connection for its duration and returns
// it on every path. Payloads are read back in bounded chunks inside a single
// read transaction so large sessions never require one oversized fetch.
package sqlite
