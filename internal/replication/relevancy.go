package replication

import (
	"fmt"
	"math"
	"strings"
)

// Relevancy threshold used by PolicyOnlyToRelevant.
const RelevantThreshold = 0.1

// Vec3 is a world-space position or direction.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Dot returns the dot product.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Len returns the vector length.
func (v Vec3) Len() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalize returns the unit vector, or the zero vector.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return Vec3{v.X / l, v.Y / l, v.Z / l}
}

// Viewpoint is what relevancy needs to know about a player.
type Viewpoint struct {
	PlayerID    string `json:"player_id"`
	Team        string `json:"team,omitempty"`
	Position    Vec3   `json:"position"`
	Facing      Vec3   `json:"facing"`
	LineOfSight bool   `json:"line_of_sight"`
}

// Relevancy scores how much viewer cares about owner's equipment, in [0, 1].
//
// Distance falls off with sqrt(1 - d/maxDistance). Line of sight doubles the
// score, facing away halves it at most, an active weapon adds 50% and a
// shared team adds 20%. The result is scaled by lerp(0.5, 1, quality).
func Relevancy(owner, viewer Viewpoint, weaponActive bool, maxDistance, quality float64) float64 {
	if owner.PlayerID != "" && owner.PlayerID == viewer.PlayerID {
		return 1
	}
	if maxDistance <= 0 {
		maxDistance = DefaultRelevancyDistance
	}

	to := owner.Position.Sub(viewer.Position)
	dist := clamp01(to.Len() / maxDistance)
	rel := math.Sqrt(1 - dist)

	if viewer.LineOfSight {
		rel *= 2
	}
	facing := viewer.Facing.Normalize()
	if facing != (Vec3{}) {
		dir := (facing.Dot(to.Normalize()) + 1) / 2
		rel *= max(0.5, dir)
	}
	if weaponActive {
		rel *= 1.5
	}
	if owner.Team != "" && owner.Team == viewer.Team {
		rel *= 1.2
	}

	q := clamp01(quality)
	rel *= 0.5 + 0.5*q
	return clamp01(rel)
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}

// Policy decides which clients receive a player's equipment.
type Policy int

const (
	PolicyAlways Policy = iota
	PolicyOnlyToOwner
	PolicyOnlyToRelevant
	PolicySkipOwner
	PolicyCustom
)

var policyNames = map[Policy]string{
	PolicyAlways:         "always",
	PolicyOnlyToOwner:    "owner",
	PolicyOnlyToRelevant: "relevant",
	PolicySkipOwner:      "skip_owner",
	PolicyCustom:         "custom",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return PolicyAlways, fmt.Errorf("unknown replication policy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// PolicyFunc is the predicate used by PolicyCustom.
type PolicyFunc func(clientID string, relevancy float64) bool
