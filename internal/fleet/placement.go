package fleet

import (
	"sort"

	"github.com/botgrid/hosting/internal/models"
)

// FindPlacement picks the node with the most free memory that is active and
// can fit estimatedMB, breaking ties by id ascending. Returns nil when no
// node qualifies. Returning, draining and recovering nodes are never
// candidates even with spare capacity.
func FindPlacement(nodes []*models.Node, estimatedMB int) *models.Node {
	return FindPlacementExcluding(nodes, estimatedMB)
}

// FindPlacementExcluding is FindPlacement with a set of node ids removed
// from consideration, used by migration and recovery to avoid the source.
func FindPlacementExcluding(nodes []*models.Node, estimatedMB int, exclude ...string) *models.Node {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var candidates []*models.Node
	for _, node := range nodes {
		if excluded[node.ID] {
			continue
		}
		if !node.IsPlacementCandidate() {
			continue
		}
		if node.FreeMB() < estimatedMB {
			continue
		}
		candidates = append(candidates, node)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FreeMB() != candidates[j].FreeMB() {
			return candidates[i].FreeMB() > candidates[j].FreeMB()
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0]
}
