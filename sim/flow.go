package sim

import "fmt"

// FlowManager computes the potential flux F(i→j) between two adjacent units.
//
// With d = height(i) - height(j):
//   - d <= 0, or either unit an obstacle: 0
//   - d > LateralThreshold: GravityCoefficient * d (fast equalization)
//   - otherwise: LateralCoefficient * d (slow lateral diffusion)
//
// The value is a rate, not yet bounded by population or capacity; the
// FlowSimulator does the bounding. FlowManager is immutable and safe to
// share across facilities and goroutines.
type FlowManager struct {
	gravityCoefficient float64
	lateralCoefficient float64
	lateralThreshold   float64
}

// NewFlowManager validates the coefficients and returns a FlowManager.
func NewFlowManager(gravity, lateral, threshold float64) (*FlowManager, error) {
	if gravity < 0 {
		return nil, fmt.Errorf("%w: gravity coefficient must be non-negative, got %f", ErrInvalidConfig, gravity)
	}
	if lateral < 0 {
		return nil, fmt.Errorf("%w: lateral coefficient must be non-negative, got %f", ErrInvalidConfig, lateral)
	}
	if lateral > gravity {
		// keeps flux non-decreasing in the height difference across the threshold
		return nil, fmt.Errorf("%w: lateral coefficient %f exceeds gravity coefficient %f", ErrInvalidConfig, lateral, gravity)
	}
	if threshold < 0 {
		return nil, fmt.Errorf("%w: lateral threshold must be non-negative, got %f", ErrInvalidConfig, threshold)
	}
	return &FlowManager{
		gravityCoefficient: gravity,
		lateralCoefficient: lateral,
		lateralThreshold:   threshold,
	}, nil
}

func (fm *FlowManager) GravityCoefficient() float64 { return fm.gravityCoefficient }
func (fm *FlowManager) LateralCoefficient() float64 { return fm.lateralCoefficient }
func (fm *FlowManager) LateralThreshold() float64   { return fm.lateralThreshold }

// ComputeFlux returns the non-negative flux from i to j.
func (fm *FlowManager) ComputeFlux(i, j *Unit) float64 {
	if i.IsObstacle() || j.IsObstacle() {
		return 0
	}
	return fm.fluxForDifference(i.Height() - j.Height())
}

func (fm *FlowManager) fluxForDifference(d float64) float64 {
	if d <= 0 {
		return 0
	}
	if d > fm.lateralThreshold {
		return fm.gravityCoefficient * d
	}
	return fm.lateralCoefficient * d
}

func (fm *FlowManager) String() string {
	return fmt.Sprintf("FlowManager{k=%g k_lat=%g eps=%g}", fm.gravityCoefficient, fm.lateralCoefficient, fm.lateralThreshold)
}
