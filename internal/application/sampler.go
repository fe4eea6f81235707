package application

import (
	"math"
	"math/rand"
)

// Sampler draws Beta variates for Thompson sampling. It is not safe for
// concurrent use.
type Sampler struct {
	rng *rand.Rand
}

func NewSampler(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

func (s *Sampler) Float64() float64 {
	return s.rng.Float64()
}

// Beta draws from Beta(alpha, beta) as the ratio of two unit-scale Gamma
// draws.
func (s *Sampler) Beta(alpha, beta float64) float64 {
	x := s.Gamma(alpha)
	y := s.Gamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// Gamma draws from Gamma(alpha, 1) using Marsaglia and Tsang's method.
// Shapes below one are boosted to alpha+1 and scaled by u^(1/alpha).
func (s *Sampler) Gamma(alpha float64) float64 {
	if alpha < 1 {
		u := s.nonZeroUniform()
		return s.Gamma(alpha+1) * math.Pow(u, 1/alpha)
	}

	d := alpha - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = s.rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := s.nonZeroUniform()
		x2 := x * x
		if u < 1.0-0.0331*x2*x2 {
			return d * v
		}
		if math.Log(u) < 0.5*x2+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}

func (s *Sampler) nonZeroUniform() float64 {
	for {
		if u := s.rng.Float64(); u > 0 {
			return u
		}
	}
}
