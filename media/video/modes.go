package video

// InferMode maps (image count, prompt presence, vendor capabilities) to
// exactly one mode. It is total: every input yields a mode, and whether
// that mode's required fields are present is checked separately.
//
//	n == 0            text2video
//	n == 1            reference2video if prompt and SingleImageReference, else img2video
//	n == 2            reference2video if prompt and supported, else start_end2video,
//	                  falling back to whichever image mode the vendor has
//	n >= 3            reference2video if supported, else img2video
func InferMode(n int, hasPrompt bool, caps Capabilities) VideoMode {
	switch {
	case n <= 0:
		return ModeText2Video
	case n == 1:
		if hasPrompt && caps.SingleImageReference && caps.Supports(ModeReference2Video) {
			return ModeReference2Video
		}
		return ModeImg2Video
	case n == 2:
		if hasPrompt && caps.Supports(ModeReference2Video) {
			return ModeReference2Video
		}
		if caps.Supports(ModeStartEnd2Video) {
			return ModeStartEnd2Video
		}
		if caps.Supports(ModeReference2Video) {
			return ModeReference2Video
		}
		return ModeImg2Video
	default:
		if caps.Supports(ModeReference2Video) {
			return ModeReference2Video
		}
		return ModeImg2Video
	}
}

// ModeRule is one row of a vendor's inference table.
type ModeRule struct {
	Images    int       `json:"images"`
	HasPrompt bool      `json:"has_prompt"`
	Mode      VideoMode `json:"mode"`
}

// ModeTable expands InferMode over every supported image count.
func ModeTable(caps Capabilities) []ModeRule {
	rules := make([]ModeRule, 0, 2*(MaxReferenceImages+1))
	for n := 0; n <= MaxReferenceImages; n++ {
		for _, p := range []bool{false, true} {
			rules = append(rules, ModeRule{Images: n, HasPrompt: p, Mode: InferMode(n, p, caps)})
		}
	}
	return rules
}

// endpointFor looks up mode in table, falling back to text-to-video.
func endpointFor(table map[VideoMode]string, mode VideoMode) string {
	if ep, ok := table[mode]; ok {
		return ep
	}
	return table[ModeText2Video]
}

// clampDuration bounds d to caps, substituting the default for zero.
func clampDuration(d int, caps Capabilities) int {
	if d <= 0 {
		d = caps.DefaultDuration
	}
	if caps.MinDuration > 0 && d < caps.MinDuration {
		d = caps.MinDuration
	}
	if caps.MaxDuration > 0 && d > caps.MaxDuration {
		d = caps.MaxDuration
	}
	return d
}
