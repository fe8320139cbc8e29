package signal

// Tone is the three-valued attention severity used uniformly across signals.
type Tone string

const (
	ToneGreen Tone = "green"
	ToneAmber Tone = "amber"
	ToneRed   Tone = "red"
)

// Severity maps a tone onto the shared 0/1/2 scale. Unrecognized tones count
// as green rather than inflating the composite.
func (t Tone) Severity() int {
	switch t {
	case ToneRed:
		return 2
	case ToneAmber:
		return 1
	default:
		return 0
	}
}

// ParseTone normalizes a supplied tone string, defaulting to green.
func ParseTone(s string) Tone {
	switch s {
	case string(ToneRed):
		return ToneRed
	case string(ToneAmber):
		return ToneAmber
	default:
		return ToneGreen
	}
}
