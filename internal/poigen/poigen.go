// Package poigen seeds the PoI registry: a reproducible, uniform random
// scattering of points of interest over a square area, each assigned a
// uniformly random urgency in {1,2,3}.
package poigen

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"eqcsim/internal/model"
)

// Generate produces n PoIs uniformly scattered over [0, areaSide) in
// both axes, seeded for reproducibility. Labels are assigned in
// generation order as P0001, P0002, ...
func Generate(seed uint64, n int, areaSide float64) []model.POI {
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	pois := make([]model.POI, 0, n)
	for i := 0; i < n; i++ {
		x := rng.Float64() * areaSide
		y := rng.Float64() * areaSide
		u := model.Urgency(1 + rng.IntN(3))
		pois = append(pois, model.POI{
			ID:      uuid.New(),
			Label:   fmt.Sprintf("P%04d", i+1),
			Coord:   orb.Point{x, y},
			Urgency: u,
		})
	}
	return pois
}
