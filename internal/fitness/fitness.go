// Package fitness scores agent performance onto a bounded [0,1] scale used to
// rank agents for coordination and evolution.
package fitness

import (
	"math"

	"github.com/flockmind/flockmind/internal/agents"
)

// Weights of the three fitness components. They sum to 1; the volume term can
// in principle push the raw sum past 1 at extreme task counts, so the final
// score is clamped.
const (
	SuccessWeight = 0.5
	SpeedWeight   = 0.3
	VolumeWeight  = 0.2
)

// Score combines success rate, response speed, and task volume into a single
// fitness value in [0,1]. Speed is 1/(1+avg) for a positive average response
// time and 0 before any timing is observed. Volume is ln(1+completed)/10,
// growing slowly with diminishing returns.
func Score(successRate, avgResponseSeconds float64, tasksCompleted int64) float64 {
	var speed float64
	if avgResponseSeconds > 0 {
		speed = 1 / (1 + avgResponseSeconds)
	}
	volume := math.Log(1+float64(tasksCompleted)) / 10

	score := SuccessWeight*successRate + SpeedWeight*speed + VolumeWeight*volume
	return math.Min(score, 1.0)
}

// FromMetrics scores an agent's current metrics
func FromMetrics(m agents.Metrics) float64 {
	return Score(m.SuccessRate, m.AvgResponseTime, m.TasksCompleted)
}
