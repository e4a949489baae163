// Package report builds the per-run coverage, reconciliation and mapping
// drift reports. Reports observe a pass result; they never touch the store.
package report
