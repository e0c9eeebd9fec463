// Package services provides the built-in ingest phase services and a registry that
// resolves configured service names.
//
// Every service reads the deposit's package from its IngestState, writes attribute
// sets or business objects, and records one event per unit of work. Services are
// safe to re-run: a phase that failed half way is re-executed from its first
// service on resume, so each service overwrites what an earlier attempt wrote.
package services
