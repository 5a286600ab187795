package syncengine

import (
	"sort"
	"time"
)

// Report summarizes one sync pass.
type Report struct {
	Started  time.Time
	Finished time.Time

	// Identities is the number of registered identities at pass start.
	Identities int

	// Resolution holds the identities skipped because resolution failed.
	Resolution []*SyncError

	// Tuples has one entry per attempted (identity, endpoint, direction).
	Tuples []*TupleResult
}

// TupleResult is the outcome of syncing one (identity, endpoint, direction).
type TupleResult struct {
	DID       string
	Endpoint  string
	Direction Direction

	// Events is the number of source events enumerated after the watermark.
	Events int

	// Applied counts messages the destination accepted.
	Applied int

	// Present counts messages the destination already held, either found
	// by the presence query or answered with a conflict.
	Present int

	// Rejections are the per-message failures; the tuple continued past them.
	Rejections []*SyncError

	// Watermark is the persisted watermark when the tuple finished.
	Watermark string

	// Err is the failure that aborted the tuple, if any.
	Err *SyncError
}

// Applied returns the number of messages applied across all tuples.
func (r *Report) Applied() int {
	n := 0
	for _, t := range r.Tuples {
		n += t.Applied
	}
	return n
}

// Rejected returns the number of per-message rejections across all tuples.
func (r *Report) Rejected() int {
	n := 0
	for _, t := range r.Tuples {
		n += len(t.Rejections)
	}
	return n
}

// Failed returns the tuples aborted by a failure.
func (r *Report) Failed() []*TupleResult {
	var out []*TupleResult
	for _, t := range r.Tuples {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// Tuple returns the result for a tuple, or nil if it was not attempted.
func (r *Report) Tuple(did, endpoint string, dir Direction) *TupleResult {
	for _, t := range r.Tuples {
		if t.DID == did && t.Endpoint == endpoint && t.Direction == dir {
			return t
		}
	}
	return nil
}

// sortTuples orders tuples deterministically for display.
func (r *Report) sortTuples() {
	sort.Slice(r.Tuples, func(i, j int) bool {
		a, b := r.Tuples[i], r.Tuples[j]
		if a.DID != b.DID {
			return a.DID < b.DID
		}
		if a.Endpoint != b.Endpoint {
			return a.Endpoint < b.Endpoint
		}
		return a.Direction < b.Direction
	})
}
