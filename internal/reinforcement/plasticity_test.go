package reinforcement

import (
	"math"
	"testing"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

func TestApplyPlasticityBornWeight(t *testing.T) {
	next, update := ApplyPlasticity(nil, "a", "b", 0.5, 1.0, 0, PlasticityParams{})
	if update.OldWeight != defaultBornWeight {
		t.Errorf("expected born weight %v, got %v", defaultBornWeight, update.OldWeight)
	}
	if next.Weight < mesh.MinEdgeWeight || next.Weight > mesh.MaxEdgeWeight {
		t.Errorf("weight out of bounds: %v", next.Weight)
	}
}

func TestApplyPlasticityClampsToBounds(t *testing.T) {
	current := &mesh.Edge{Weight: mesh.MaxEdgeWeight}
	next, _ := ApplyPlasticity(current, "a", "b", 0, 1.0, 0, PlasticityParams{})
	if next.Weight > mesh.MaxEdgeWeight {
		t.Errorf("expected clamp at max, got %v", next.Weight)
	}

	current = &mesh.Edge{Weight: mesh.MinEdgeWeight}
	next, _ = ApplyPlasticity(current, "a", "b", 0, 0.0, 0, PlasticityParams{})
	if next.Weight < mesh.MinEdgeWeight {
		t.Errorf("expected clamp at min, got %v", next.Weight)
	}
}

func TestApplyPlasticityLambdaDecayAlwaysApplied(t *testing.T) {
	current := &mesh.Edge{Weight: 0.5}
	_, update := ApplyPlasticity(current, "a", "b", 0, 1.0, 0, PlasticityParams{})
	// Even a perfect outcome (o=1) pays the lambda_decay housekeeping cost.
	expectedDelta := DefaultAlphaPos*1.0 - DefaultAlphaNeg*0 - DefaultLambdaDecay
	if math.Abs(update.Delta-expectedDelta) > 1e-9 {
		t.Errorf("delta = %v, want %v", update.Delta, expectedDelta)
	}
}

func TestApplyPlasticityMonotoneAccumulators(t *testing.T) {
	current := &mesh.Edge{Weight: 0.5, RSuccess: 1, RDecay: 2}
	next, _ := ApplyPlasticity(current, "a", "b", 0, 0.6, 0, PlasticityParams{})
	if next.RSuccess != 1+0.6 {
		t.Errorf("RSuccess = %v, want %v", next.RSuccess, 1+0.6)
	}
	if next.RDecay != 2+0.4 {
		t.Errorf("RDecay = %v, want %v", next.RDecay, 2+0.4)
	}
}

func TestValidateOutcomeScore(t *testing.T) {
	if err := validateOutcomeScore(0.5); err != nil {
		t.Errorf("unexpected error for valid score: %v", err)
	}
	if err := validateOutcomeScore(-0.1); err == nil {
		t.Error("expected error for negative score")
	}
	if err := validateOutcomeScore(1.1); err == nil {
		t.Error("expected error for score > 1")
	}
}
