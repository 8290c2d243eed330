// Package camera is the default in-process implementation of the
// camera sensor collaborator: it returns the list of detected ground
// nodes within slant range of a leader's current position. The core
// consumes only TakePicture, matching detections back to configured
// PoIs itself (see Match) per the spec's detection-filtering rule.
package camera

import (
	"eqcsim/internal/geo"
	"eqcsim/internal/model"
	"eqcsim/internal/poiregistry"
)

// Detection is one raw ground node reported by the sensor.
type Detection struct {
	Position model.Point3
}

// Sensor reads ground nodes from the shared registry within reach of a
// leader's position.
type Sensor struct {
	registry *poiregistry.Registry
	reach    float64
}

// New creates a camera sensor with the given slant reach (meters).
func New(registry *poiregistry.Registry, reach float64) *Sensor {
	return &Sensor{registry: registry, reach: reach}
}

// TakePicture returns every configured PoI within slant range of pos,
// each surfaced as a ground-level (z=0) detection.
func (s *Sensor) TakePicture(pos model.Point3) []Detection {
	var out []Detection
	for _, p := range s.registry.All() {
		d := geo.Distance3(pos.X, pos.Y, pos.Z, p.Coord[0], p.Coord[1], 0)
		if d <= s.reach {
			out = append(out, Detection{Position: model.Point3{X: p.Coord[0], Y: p.Coord[1], Z: 0}})
		}
	}
	return out
}

// Match compares each configured PoI's coordinate against every
// detected node using absolute-difference tolerance eps in x, y, and z
// (PoIs lie on z=0), per the spec's coordinate-match rule. It returns
// the configured PoIs that matched at least one detection, in registry
// order, deduplicated.
func Match(configured []model.POI, detections []Detection, eps float64) []model.POI {
	var matched []model.POI
	for _, p := range configured {
		for _, d := range detections {
			if absDiff(p.Coord[0], d.Position.X) < eps &&
				absDiff(p.Coord[1], d.Position.Y) < eps &&
				absDiff(0, d.Position.Z) < eps {
				matched = append(matched, p)
				break
			}
		}
	}
	return matched
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
