// Package reconcile keeps the local tanda cache consistent with the ledger.
//
// The ledger is authoritative for every id it returns. Tandas it does not
// know about are provisional copies created offline and are kept until a
// sync publishes them.
package reconcile

import "github.com/roach88/tandasync/internal/tanda"

// Report counts what a merge did.
type Report struct {
	Remote    int `json:"remote"`
	LocalOnly int `json:"localOnly"`
	Replaced  int `json:"replaced"`
	// Regressed counts replaced tandas whose remote status moved backwards
	// from the local one. The remote copy is still the one kept.
	Regressed int `json:"regressed,omitempty"`
}

// Merge returns remote followed by the local tandas whose id remote does
// not contain. Both orders are preserved. The result shares no slices with
// the inputs.
func Merge(local, remote []tanda.Tanda) []tanda.Tanda {
	merged, _ := MergeWithReport(local, remote)
	return merged
}

// MergeWithReport is Merge plus counts for logging and metrics.
func MergeWithReport(local, remote []tanda.Tanda) ([]tanda.Tanda, Report) {
	remoteStatus := make(map[string]tanda.Status, len(remote))
	merged := make([]tanda.Tanda, 0, len(remote)+len(local))
	for _, t := range remote {
		remoteStatus[t.ID] = t.Status
		merged = append(merged, t.Clone())
	}

	rep := Report{Remote: len(remote)}
	for _, t := range local {
		if status, ok := remoteStatus[t.ID]; ok {
			rep.Replaced++
			if !tanda.CanTransition(t.Status, status) {
				rep.Regressed++
			}
			continue
		}
		merged = append(merged, t.Clone())
		rep.LocalOnly++
	}
	return merged, rep
}
