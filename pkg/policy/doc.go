// Package policy evaluates Rego policies against deposits.
//
// Policies are Rego v1 modules whose package defines a `deny` set. Each entry
// is either a message string or an object:
//
//	package deposit.readme
//
//	deny contains violation if {
//		not readme
//		violation := {"message": "package has no README", "severity": "error"}
//	}
//
//	readme if {
//		some file in input.deposit.files
//		lower(file.name) == "readme.txt"
//	}
//
// The input document is Input: the deposit id and user, its package files with
// any size, format and checksum recorded so far, its attribute sets and a count
// of business objects by type. A violation takes the policy's severity unless
// the entry names one. Error and critical violations deny the deposit.
//
// Service runs the engine as an ingest phase service. It records a
// policy.evaluation event with outcome "allowed" or "denied" and, when
// enforcing, fails the phase on denial. Loader reads policies from .rego and
// .json files and can watch them for changes.
package policy
