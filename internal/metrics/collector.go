// Package metrics provides resolver instrumentation behind a small interface
// so the placement package does not depend on a metrics backend.
package metrics

// Lookup outcomes reported by RecordLookup.
const (
	OutcomeCached   = "cached"
	OutcomeStore    = "store"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Collector receives resolver events.
type Collector interface {
	// RecordLookup counts one Worker call by outcome.
	RecordLookup(outcome string)
	// RecordMalformed counts replica records skipped during a lookup.
	RecordMalformed(n int)
	// RecordSave reports a Save call: entries written and whether it failed.
	RecordSave(written int, failed bool)
	// SetPending reports the number of unsaved fallback assignments.
	SetPending(n int)
}
