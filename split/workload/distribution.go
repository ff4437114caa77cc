package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/inference-sim/copysplit/split"
)

// SizeSampler generates transfer sizes in bytes.
type SizeSampler interface {
	// Sample returns a size >= 1.
	Sample(rng *rand.Rand) uint64
}

// ConstantSampler always returns the same size.
type ConstantSampler struct {
	value uint64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) uint64 {
	return max(s.value, 1)
}

// UniformSampler draws uniformly from [min, max].
type UniformSampler struct {
	min, max uint64
}

func (s *UniformSampler) Sample(rng *rand.Rand) uint64 {
	if s.max <= s.min {
		return max(s.min, 1)
	}
	return max(s.min+uint64(rng.Int63n(int64(s.max-s.min+1))), 1)
}

// GaussianSampler produces clamped Gaussian sizes.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     uint64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) uint64 {
	if s.min == s.max {
		return max(s.min, 1)
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	clamped := math.Min(float64(s.max), math.Max(float64(s.min), val))
	return max(uint64(math.Round(clamped)), 1)
}

// ExponentialSampler produces exponentially-distributed sizes, optionally
// capped at max.
type ExponentialSampler struct {
	mean float64
	max  uint64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) uint64 {
	val := rng.ExpFloat64() * s.mean
	if s.max > 0 && val > float64(s.max) {
		val = float64(s.max)
	}
	return max(uint64(math.Round(val)), 1)
}

// validDistTypes lists the accepted DistSpec.Type values.
var validDistTypes = map[string]bool{
	"constant":    true,
	"uniform":     true,
	"gaussian":    true,
	"exponential": true,
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]split.ByteSize, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewSizeSampler creates a SizeSampler from a DistSpec.
func NewSizeSampler(spec DistSpec) (SizeSampler, error) {
	p := spec.Params
	switch spec.Type {
	case "constant":
		if err := requireParam(p, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: uint64(p["value"])}, nil

	case "uniform":
		if err := requireParam(p, "min", "max"); err != nil {
			return nil, err
		}
		if p["min"] > p["max"] {
			return nil, fmt.Errorf("uniform distribution: min %s exceeds max %s", p["min"], p["max"])
		}
		return &UniformSampler{min: uint64(p["min"]), max: uint64(p["max"])}, nil

	case "gaussian":
		if err := requireParam(p, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		return &GaussianSampler{
			mean:   float64(p["mean"]),
			stdDev: float64(p["std_dev"]),
			min:    uint64(p["min"]),
			max:    uint64(p["max"]),
		}, nil

	case "exponential":
		if err := requireParam(p, "mean"); err != nil {
			return nil, err
		}
		return &ExponentialSampler{mean: float64(p["mean"]), max: uint64(p["max"])}, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}
