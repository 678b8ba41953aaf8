package api

import "github.com/sweeney/asterisk-callflow/internal/ledger"

// recordDelays extracts the correlation delay, in seconds, for every
// occurrence of a record that carried an Asterisk timestamp. Statuses
// written by the orchestrator itself have no external time and are
// skipped.
func recordDelays(rec ledger.Record) []float64 {
	var out []float64
	if !rec.ExternalTime.IsZero() {
		out = append(out, rec.CorrelationTime.Sub(rec.ExternalTime).Seconds())
	}
	for _, rw := range rec.Rewrites {
		if !rw.ExternalTime.IsZero() {
			out = append(out, rw.CorrelationTime.Sub(rw.ExternalTime).Seconds())
		}
	}
	return out
}
