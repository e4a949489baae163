// Package harness runs reconciliation scenarios end to end.
//
// A scenario feeds a sequence of runs through a real engine over a fresh
// in-memory store. The clock is fixed and run ids come from the scenario,
// so the resulting trace is byte-for-byte reproducible and can be compared
// against a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	catalog: ../catalog.yaml
//	start: "2026-01-01T00:00:00Z"
//	config:
//	  fuzzy_threshold: 0.9
//	runs:
//	  - run_id: run-1
//	    candidates:
//	      - canonical_process: recruiting
//	        canonical_client: Acme
//	        canonical_role: AI Engineer
//	        evidence:
//	          - { message_id: m1, timestamp: "2026-01-01T00:00:00Z" }
//	    expect:
//	      decisions: [NEW]
//	      counts: { created: 1 }
//	  - run_id: run-2
//	    advance: 24h
//	    candidates: [...]
//	assertions:
//	  - type: entry_count
//	    count: 1
//	  - type: entry
//	    key: { process: recruiting, client: Acme, role: AI Engineer }
//	    expect: { version: 1, evidence_ids: [m1] }
//	  - type: history_length
//	    key: { process: recruiting, client: Acme, role: AI Engineer, email: ada@example.com }
//	    count: 2
//
// # Trace
//
// The trace holds one decision event per candidate, in input order, and a
// pass event closing each run. Fuzzy scores are carried as four-decimal
// strings so the canonical JSON stays float free.
package harness
