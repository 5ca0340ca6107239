package replication

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevancy(t *testing.T) {
	owner := Viewpoint{PlayerID: "owner", Team: "red"}
	halfway := Vec3{X: -2500}
	half := math.Sqrt(0.5)

	tests := []struct {
		name   string
		viewer Viewpoint
		weapon bool
		q      float64
		want   float64
	}{
		{"self", Viewpoint{PlayerID: "owner", Position: Vec3{X: 1e6}}, false, 0, 1},
		{"out of range", Viewpoint{PlayerID: "v", Position: Vec3{X: 9000}}, true, 1, 0},
		{"facing owner", Viewpoint{PlayerID: "v", Position: halfway, Facing: Vec3{X: 1}}, false, 1, half},
		{"facing away", Viewpoint{PlayerID: "v", Position: halfway, Facing: Vec3{X: -1}}, false, 1, half * 0.5},
		{"line of sight clamps", Viewpoint{PlayerID: "v", Position: halfway, LineOfSight: true}, false, 1, 1},
		{"weapon active", Viewpoint{PlayerID: "v", Position: halfway, Facing: Vec3{X: -1}}, true, 1, half * 0.5 * 1.5},
		{"team", Viewpoint{PlayerID: "v", Team: "red", Position: halfway}, false, 1, half * 1.2},
		{"poor network", Viewpoint{PlayerID: "v", Position: halfway}, false, 0, half * 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Relevancy(owner, tt.viewer, tt.weapon, DefaultRelevancyDistance, tt.q)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPolicy_Text(t *testing.T) {
	var p Policy
	require.NoError(t, p.UnmarshalText([]byte("Relevant")))
	assert.Equal(t, PolicyOnlyToRelevant, p)

	b, err := PolicySkipOwner.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "skip_owner", string(b))

	assert.Error(t, p.UnmarshalText([]byte("everyone")))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.UpdateRate = 120
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RelevancyDistance = 10
	assert.Error(t, cfg.Validate())
	assert.Equal(t, MinRelevancyDistance, cfg.normalize().RelevancyDistance)
}
