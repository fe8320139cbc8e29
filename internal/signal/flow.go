package signal

import "math"

// Flow states, worst first thresholds: severity sum >=5 drifts, >=2 watches.
const (
	FlowInFlow    = "In Flow"
	FlowWatchlist = "Watchlist"
	FlowDrifting  = "Drifting"
)

// SignalTones are the five independent inputs the composite blends.
type SignalTones struct {
	Momentum  Tone `json:"momentum"`
	Jobs      Tone `json:"jobs"`
	Capacity  Tone `json:"capacity"`
	Deadlines Tone `json:"deadlines"`
	Sales     Tone `json:"sales"`
}

// FlowInputs feed the aggregator. CapacityPressurePct and UnreviewedOverdue
// drive the single-severe-signal overrides.
type FlowInputs struct {
	Tones               SignalTones
	CapacityPressurePct *int
	UnreviewedOverdue   int
	FallbackDriver      string
}

// FlowScore is the composite headline indicator.
type FlowScore struct {
	ScorePct    int    `json:"score_pct" minimum:"0" maximum:"100"`
	State       string `json:"state" enum:"In Flow,Watchlist,Drifting"`
	Message     string `json:"message"`
	DriverLabel string `json:"driver_label"`
}

var flowMessages = map[string]string{
	FlowInFlow:    "Delivery is humming. Keep the cadence.",
	FlowWatchlist: "A few signals want eyes this week.",
	FlowDrifting:  "Multiple signals are slipping. Time to intervene.",
}

var driverLabels = map[string]string{
	"deadlines": "Deadline pressure",
	"capacity":  "Capacity pressure",
	"jobs":      "Jobs drifting",
	"momentum":  "Momentum dipping",
	"sales":     "Sales clarity",
}

const defaultFallbackDriver = "Everything looks steady"

// BuildFlowScore blends five signal tones into one score and state. The two
// overrides keep a single severe signal from being masked by four calm ones.
func BuildFlowScore(in FlowInputs) FlowScore {
	sum := in.Tones.Momentum.Severity() +
		in.Tones.Jobs.Severity() +
		in.Tones.Capacity.Severity() +
		in.Tones.Deadlines.Severity() +
		in.Tones.Sales.Severity()

	score := clampInt(int(math.Round(float64(sum)/10*100)), 0, 100)
	state := FlowInFlow
	switch {
	case sum >= 5:
		state = FlowDrifting
	case sum >= 2:
		state = FlowWatchlist
	}

	if in.UnreviewedOverdue > 0 && state == FlowInFlow {
		state = FlowWatchlist
		if score < 20 {
			score = 20
		}
	}
	if in.CapacityPressurePct != nil && *in.CapacityPressurePct > 110 {
		state = FlowDrifting
		if score < 90 {
			score = 90
		}
	}

	return FlowScore{
		ScorePct:    score,
		State:       state,
		Message:     flowMessages[state],
		DriverLabel: driverLabel(in),
	}
}

// driverLabel names the loudest signal; ties resolve by the fixed priority
// deadlines, capacity, jobs, momentum, sales.
func driverLabel(in FlowInputs) string {
	ordered := []struct {
		key  string
		tone Tone
	}{
		{"deadlines", in.Tones.Deadlines},
		{"capacity", in.Tones.Capacity},
		{"jobs", in.Tones.Jobs},
		{"momentum", in.Tones.Momentum},
		{"sales", in.Tones.Sales},
	}
	maxSev := 0
	for _, s := range ordered {
		if sev := s.tone.Severity(); sev > maxSev {
			maxSev = sev
		}
	}
	if maxSev == 0 {
		if in.FallbackDriver != "" {
			return in.FallbackDriver
		}
		return defaultFallbackDriver
	}
	for _, s := range ordered {
		if s.tone.Severity() == maxSev {
			return driverLabels[s.key]
		}
	}
	return defaultFallbackDriver
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
