// Package ir provides the record types shared by every stage of the
// reconciliation engine.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Candidates are validated into typed errors, never trusted as-is
//   - Instance keys serialize through RFC 8785 canonical JSON so that the
//     lexical order of serialized keys is a stable total order
//   - Identifiers derived from content use SHA-256 with domain separation
//   - All JSON tags use snake_case
package ir
