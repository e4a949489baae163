// Package catalog loads and indexes the static process taxonomy.
//
// A catalog maps free-form process, step, client and role names to canonical
// ids, orders steps and phases per process, carries SLA thresholds, and ranks
// identity signals (email > full name > first name only).
//
// Catalogs are authored in YAML or CUE. Both forms are validated against the
// embedded CUE schema (schema.cue) before structural checks run in Go.
// A loaded *Catalog is immutable and safe for concurrent use.
package catalog
