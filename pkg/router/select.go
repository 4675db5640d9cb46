package router

import (
	"math/rand"
	"sort"

	"github.com/hivemesh/hive/pkg/types"
)

// SelectPeer picks a forwarding target from discovery candidates.
// Mesh-reachable workers win over tunnel-only ones; among those, load
// decides, with a random pick across the lowest-loaded three to spread
// traffic.
func SelectPeer(workers []*types.Worker) *types.Worker {
	candidates := make([]*types.Worker, 0, len(workers))
	for _, w := range workers {
		if w == nil || (w.TunnelURL == "" && w.MeshIP == "") {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return nil
	}

	meshed := make([]*types.Worker, 0, len(candidates))
	for _, w := range candidates {
		if w.MeshIP != "" {
			meshed = append(meshed, w)
		}
	}
	if len(meshed) > 0 {
		candidates = meshed
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Load != candidates[j].Load {
			return candidates[i].Load < candidates[j].Load
		}
		return candidates[i].ID < candidates[j].ID
	})

	top := 3
	if len(candidates) < top {
		top = len(candidates)
	}
	return candidates[rand.Intn(top)]
}
