package pricing

import (
	"math"
	"math/rand/v2"
)

// Normal draws from a normal distribution with mean Mu and standard
// deviation Sigma using the Box–Muller transform.
type Normal struct {
	Mu    float64
	Sigma float64
}

// StandardNormal has mean 0 and standard deviation 1.
var StandardNormal = Normal{Mu: 0, Sigma: 1}

// Sample draws one value. Both uniforms are taken from (0, 1] so that the
// logarithm is finite.
func (n Normal) Sample(rng *rand.Rand) float64 {
	r1 := 1 - rng.Float64()
	r2 := 1 - rng.Float64()
	z := math.Sqrt(-2*math.Log(r1)) * math.Sin(2*math.Pi*r2)
	return n.Mu + n.Sigma*z
}
