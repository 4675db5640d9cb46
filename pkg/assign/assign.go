package assign

import (
	"sort"

	"github.com/hivemesh/hive/pkg/catalog"
	"github.com/hivemesh/hive/pkg/types"
)

// candidate pairs a catalog service with its current coverage.
type candidate struct {
	svc      *catalog.Service
	coverage int
}

// Assign decides which services a registering (or renewing) worker
// should run. It is a pure function of the worker's capabilities, the
// snapshot of non-stale peers (excluding the worker itself), and the
// catalog; calling it twice on the same inputs yields the same set.
//
// Rules, in order:
//  1. Eligibility: catalog services whose required type matches the
//     worker. GPU workers are additionally eligible for CPU services.
//  2. Coverage: per eligible service, count peers currently assigned it.
//  3. Sort by (coverage asc, priority asc, name) for determinism.
//  4. Multiplicity: a GPU worker with any uncovered eligible service
//     takes all uncovered eligible services; otherwise the worker takes
//     top-3 when its tier has no peers, top-2 when it has at most two,
//     and top-1 once the tier is populated.
func Assign(caps types.Capabilities, peers []*types.Worker, cat *catalog.Catalog) []string {
	eligible := cat.Eligible(caps)
	if len(eligible) == 0 {
		return nil
	}

	coverage := coverageByService(peers)

	candidates := make([]candidate, 0, len(eligible))
	for _, svc := range eligible {
		candidates = append(candidates, candidate{svc: svc, coverage: coverage[svc.Name]})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.coverage != b.coverage {
			return a.coverage < b.coverage
		}
		if a.svc.Priority != b.svc.Priority {
			return a.svc.Priority < b.svc.Priority
		}
		return a.svc.Name < b.svc.Name
	})

	// GPU workers are obliged to close every gap they can.
	if caps.WorkerType == types.WorkerTypeGPU {
		var uncovered []string
		for _, c := range candidates {
			if c.coverage == 0 {
				uncovered = append(uncovered, c.svc.Name)
			}
		}
		if len(uncovered) > 0 {
			sort.Strings(uncovered)
			return uncovered
		}
	}

	take := multiplicity(caps.WorkerType, peers)
	if take > len(candidates) {
		take = len(candidates)
	}
	out := make([]string, 0, take)
	for _, c := range candidates[:take] {
		out = append(out, c.svc.Name)
	}
	return out
}

// multiplicity decides how many services a non-gap-filling worker takes,
// based on how populated its own tier already is. GPU workers with no
// gaps left to fill always specialize.
func multiplicity(wt types.WorkerType, peers []*types.Worker) int {
	if wt == types.WorkerTypeGPU {
		return 1
	}
	sameTier := 0
	for _, p := range peers {
		if p.Capabilities.WorkerType == wt {
			sameTier++
		}
	}
	switch {
	case sameTier == 0:
		return 3 // bootstrap multitask
	case sameTier <= 2:
		return 2 // light multitask
	}
	return 1 // specialization
}

// coverageByService counts, per service, how many peers are assigned it.
func coverageByService(peers []*types.Worker) map[string]int {
	coverage := make(map[string]int)
	for _, p := range peers {
		for _, s := range p.AssignedServices {
			coverage[s]++
		}
	}
	return coverage
}
