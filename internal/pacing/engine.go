// Package pacing holds the admission-control decision for outbound dialing.
// It is deliberately a pure function of its inputs so every mode and guard
// combination can be tested without I/O.
package pacing

// Mode is the campaign dial mode.
type Mode string

const (
	ModePreview     Mode = "preview"     // agent confirms before dialing; never automatic
	ModeProgressive Mode = "progressive" // one call per available agent
	ModePredictive  Mode = "predictive"  // ratio times available agents
	ModePower       Mode = "power"       // same math as predictive, aggressive ratios
)

// Input captures everything the decision depends on.
type Input struct {
	Mode        Mode
	PacingRatio float64

	MaxConcurrentCalls int
	AvailableAgents    int
	ActiveCalls        int
}

// Decide returns how many additional calls may be originated this cycle.
// The result is advisory: it bounds the executor's batch, and the guard
// active_calls <= max_concurrent_calls holds at decision time only, since
// completions reduce active_calls asynchronously.
func Decide(in Input) int {
	if in.Mode == ModePreview {
		return 0
	}
	if in.AvailableAgents <= 0 {
		return 0
	}
	if in.ActiveCalls >= in.MaxConcurrentCalls {
		return 0
	}

	var calls int
	switch in.Mode {
	case ModeProgressive:
		calls = in.AvailableAgents - in.ActiveCalls
	case ModePredictive, ModePower:
		target := int(float64(in.AvailableAgents) * in.PacingRatio)
		calls = target - in.ActiveCalls
		if headroom := in.MaxConcurrentCalls - in.ActiveCalls; calls > headroom {
			calls = headroom
		}
	default:
		return 0
	}

	if calls < 0 {
		return 0
	}
	return calls
}
