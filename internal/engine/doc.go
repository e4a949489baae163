// Package engine implements the reconciliation pass.
//
// A pass takes one run's instance candidates and folds them into the
// persistent store:
//
//  1. Resolve: each candidate is validated, scoped, and its process, client,
//     role and step labels resolved against the catalog. Malformed and
//     out-of-scope candidates are skipped and reported.
//  2. Match: each resolved candidate is matched against a snapshot-local
//     working set (EXACT, FUZZY, AMBIGUOUS or NEW).
//  3. Merge: the merger unions evidence, reconciles state and explicit
//     steps, re-runs step/phase inference and health, and bumps the entry
//     version only on content change.
//  4. Commit: the delta is committed atomically against the snapshot
//     version. A concurrent commit forces a re-read and a full recompute,
//     bounded by the configured number of attempts.
//
// Candidates are processed in a fixed order (instance key, smallest
// evidence message id, source key, input position), so the same input
// against the same store state always produces the same store bytes.
//
// Resolution, matching, merging and inference are pure functions of their
// inputs; the only blocking points of a pass are the store read and commit.
package engine
