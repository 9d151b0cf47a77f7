package sct

import (
	"testing"
)

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// BDD: Same seed+name produces same sequence
	rng1 := NewPartitionedRNG(42)
	rng2 := NewPartitionedRNG(42)

	for i := 0; i < 3; i++ {
		a := rng1.ForSubsystem(SubsystemSearch).Int63()
		b := rng2.ForSubsystem(SubsystemSearch).Int63()
		if a != b {
			t.Errorf("Value %d: got %v and %v, want identical", i, a, b)
		}
	}
}

func TestPartitionedRNG_SubsystemIsolation(t *testing.T) {
	// BDD: Drawing from the pruner stream doesn't shift the search stream
	rngA := NewPartitionedRNG(42)
	for i := 0; i < 10; i++ {
		rngA.ForSubsystem(SubsystemPruner).Int63()
	}
	got := rngA.ForSubsystem(SubsystemSearch).Int63()

	want := NewPartitionedRNG(42).ForSubsystem(SubsystemSearch).Int63()
	if got != want {
		t.Errorf("search stream shifted by pruner draws: got %d, want %d", got, want)
	}
}

func TestPartitionedRNG_FuzzingUsesSeedDirectly(t *testing.T) {
	p := NewPartitionedRNG(99)
	if p.SeedFor(SubsystemFuzzing) != 99 {
		t.Errorf("SeedFor(fuzzing) = %d, want 99", p.SeedFor(SubsystemFuzzing))
	}
	if p.SeedFor(SubsystemSearch) == 99 {
		t.Error("search subsystem must not reuse the master seed")
	}
	if p.ForSubsystem(SubsystemPruner) != p.ForSubsystem(SubsystemPruner) {
		t.Error("ForSubsystem must cache instances")
	}
}
