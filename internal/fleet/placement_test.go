package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/botgrid/hosting/internal/models"
)

func TestFindPlacement(t *testing.T) {
	tests := []struct {
		name        string
		nodes       []*models.Node
		estimatedMB int
		want        string // "" means no placement
	}{
		{
			name: "most free memory wins",
			nodes: []*models.Node{
				testNode("n1", models.NodeActive, 4096, 3000),
				testNode("n2", models.NodeActive, 4096, 1000),
				testNode("n3", models.NodeActive, 4096, 2000),
			},
			estimatedMB: 512,
			want:        "n2",
		},
		{
			name: "tie broken by id ascending",
			nodes: []*models.Node{
				testNode("n2", models.NodeActive, 4096, 1000),
				testNode("n1", models.NodeActive, 4096, 1000),
			},
			estimatedMB: 512,
			want:        "n1",
		},
		{
			name: "non-active nodes excluded despite spare capacity",
			nodes: []*models.Node{
				testNode("n1", models.NodeReturning, 8192, 0),
				testNode("n2", models.NodeDraining, 8192, 0),
				testNode("n3", models.NodeRecovering, 8192, 0),
				testNode("n4", models.NodeOffline, 8192, 0),
				testNode("n5", models.NodeActive, 4096, 3000),
			},
			estimatedMB: 512,
			want:        "n5",
		},
		{
			name: "insufficient free memory excluded",
			nodes: []*models.Node{
				testNode("n1", models.NodeActive, 4096, 3900),
			},
			estimatedMB: 512,
			want:        "",
		},
		{
			name: "exact fit accepted",
			nodes: []*models.Node{
				testNode("n1", models.NodeActive, 4096, 3584),
			},
			estimatedMB: 512,
			want:        "n1",
		},
		{
			name:        "empty fleet",
			nodes:       nil,
			estimatedMB: 512,
			want:        "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindPlacement(tt.nodes, tt.estimatedMB)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, got.ID)
			}
		})
	}
}

func TestFindPlacementExcluding(t *testing.T) {
	nodes := []*models.Node{
		testNode("n1", models.NodeActive, 4096, 0),
		testNode("n2", models.NodeActive, 4096, 1000),
	}

	got := FindPlacementExcluding(nodes, 512, "n1")
	if assert.NotNil(t, got) {
		assert.Equal(t, "n2", got.ID)
	}

	assert.Nil(t, FindPlacementExcluding(nodes, 512, "n1", "n2"))
}
