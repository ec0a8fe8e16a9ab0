package corpustune

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Sampler proposes hyperparameters for the next trial.
type Sampler interface {
	Sample(trial int, space SearchSpace, history []TrialRecord) Hyperparameters
}

// RandomSampler draws every parameter independently and uniformly.
type RandomSampler struct {
	rng *rand.Rand
}

// NewRandomSampler creates a sampler over the given random source.
func NewRandomSampler(rng *rand.Rand) *RandomSampler {
	if rng == nil {
		rng = NewRand(0)
	}
	return &RandomSampler{rng: rng}
}

// Sample implements Sampler. Epochs are inclusive of both bounds; the learning
// rate is drawn from [LearningRateMin, LearningRateMax).
func (s *RandomSampler) Sample(_ int, space SearchSpace, _ []TrialRecord) Hyperparameters {
	epochs := space.EpochsMin
	if span := space.EpochsMax - space.EpochsMin; span > 0 {
		epochs += s.rng.IntN(span + 1)
	}
	batch := 0
	if len(space.BatchSizes) > 0 {
		batch = space.BatchSizes[s.rng.IntN(len(space.BatchSizes))]
	}
	lr := space.LearningRateMin + s.rng.Float64()*(space.LearningRateMax-space.LearningRateMin)
	return Hyperparameters{Epochs: epochs, BatchSize: batch, LearningRate: lr}
}

// Validate reports an error when the space cannot be sampled.
func (s SearchSpace) Validate() error {
	if s.EpochsMin < 1 || s.EpochsMax < s.EpochsMin {
		return fmt.Errorf("invalid epoch range [%d, %d]", s.EpochsMin, s.EpochsMax)
	}
	if len(s.BatchSizes) == 0 {
		return errors.New("no batch sizes to choose from")
	}
	for _, b := range s.BatchSizes {
		if b <= 0 {
			return fmt.Errorf("invalid batch size %d", b)
		}
	}
	if s.LearningRateMin <= 0 || s.LearningRateMax < s.LearningRateMin {
		return fmt.Errorf("invalid learning rate range [%g, %g]", s.LearningRateMin, s.LearningRateMax)
	}
	return nil
}

// Contains reports whether p lies inside the space.
func (s SearchSpace) Contains(p Hyperparameters) bool {
	if p.Epochs < s.EpochsMin || p.Epochs > s.EpochsMax {
		return false
	}
	if p.LearningRate < s.LearningRateMin || p.LearningRate > s.LearningRateMax {
		return false
	}
	for _, b := range s.BatchSizes {
		if b == p.BatchSize {
			return true
		}
	}
	return false
}
