package driver

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/interleave-sct/interleave/sct/thread"
	"github.com/interleave-sct/interleave/sct/trace"
)

// Fuzzing resumes one uniformly sampled frozen thread per decision.
type Fuzzing struct {
	seed int64
	rng  *rand.Rand
}

// NewFuzzing creates a fuzzing driver. The same seed and frozen sets give the same choices.
func NewFuzzing(seed int64) *Fuzzing {
	logrus.Infof("fuzzing driver seed: %d", seed)
	return &Fuzzing{seed: seed, rng: rand.New(rand.NewSource(seed))}
}

// Seed returns the seed the driver was created with.
func (f *Fuzzing) Seed() int64 { return f.seed }

func (f *Fuzzing) SelectThreadsToRun(frozen []*thread.Record, _ *trace.RunTrace) []*thread.Record {
	if len(frozen) == 0 {
		return nil
	}
	return []*thread.Record{frozen[f.rng.Intn(len(frozen))]}
}

func (f *Fuzzing) ShouldPersistTrace() bool { return true }
