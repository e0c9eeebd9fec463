// Package stores provides the SQLite persistence layer for the ingest service:
// durable id sequences that implement ingest.IdAllocator, and an archive of
// deposits and their event logs that implements deposit.EventArchive.
// Schema changes are embedded golang-migrate migrations.
package stores
