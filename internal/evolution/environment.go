package evolution

import "time"

// Environment carries the shared task-difficulty dials the homeostatic
// controller adjusts. Every field is clamped to [0,1] at the moment it is
// assigned.
type Environment struct {
	Complexity           float64   `json:"complexity"`
	Volatility           float64   `json:"volatility"`
	ResourceAvailability float64   `json:"resource_availability"`
	TaskDiversity        float64   `json:"task_diversity"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DefaultEnvironment returns the starting dial positions
func DefaultEnvironment() Environment {
	return Environment{
		Complexity:           0.5,
		Volatility:           0.5,
		ResourceAvailability: 1.0,
		TaskDiversity:        0.5,
		UpdatedAt:            time.Now(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
