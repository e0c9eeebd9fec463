// Package config loads the ingest service configuration.
//
// A configuration is a single document written in CUE (a file or a package
// directory), YAML or JSON. Every format is unified with the #Config CUE
// schema, so unknown fields and out-of-range values are reported with their
// file position. The result is decoded over Default() and then checked with
// validator struct tags and cross-field rules.
//
// A minimal YAML configuration:
//
//	deposits:
//	  base_dir: /var/lib/dcsingest/deposits
//	phases:
//	  - number: 1
//	    services: [checksum, characterization, policy]
//	    pause_after: true
//	  - number: 2
//	    services: [businessobject]
//
// The same in CUE:
//
//	deposits: base_dir: "/var/lib/dcsingest/deposits"
//	phases: [
//		{number: 1, services: ["checksum", "characterization", "policy"], pause_after: true},
//		{number: 2, services: ["businessobject"]},
//	]
//
// Sections:
//
//   - server: HTTP listen address, timeouts and upload limit
//   - deposits: extraction directory, packaging profile, state cache capacity
//   - ids: "memory" or "sqlite" id allocation and the event id batch size
//   - store: SQLite path and whether finished deposits are archived
//   - phases: phase numbers, their services and whether to pause after them
//   - scripts: Starlark script services, each usable as "script:<name>"
//   - policies: extra Rego policies, hot reload and enforcement
//   - telemetry: log level and format, metrics, tracing exporter
package config
